package compute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/celestiaorg/wgvpn/internal/logger"
)

// Azure progress milestones
const (
	MilestoneNetwork   = "Creating network resources"
	MilestoneVMCreated = "VM created"
	MilestoneAgent     = "waiting for agent"
	MilestoneWireGuard = "WireGuard configured"
)

// Resource name suffixes appended to the VM name
const (
	suffixNSG  = "-nsg"
	suffixVNet = "-vnet"
	suffixIP   = "-ip"
	suffixNIC  = "-nic"
	suffixDisk = "-disk"
)

const (
	defaultConfPollInterval = 10 * time.Second
	azureVMPrefix           = "wg-vm-"
)

// resourceKind identifies a deletable Azure resource type
type resourceKind string

const (
	kindVM   resourceKind = "virtual machine"
	kindNIC  resourceKind = "network interface"
	kindIP   resourceKind = "public ip"
	kindVNet resourceKind = "virtual network"
	kindNSG  resourceKind = "network security group"
	kindDisk resourceKind = "disk"
)

// teardownOrder lists resources so that nothing is deleted while another resource still references it
var teardownOrder = []struct {
	kind   resourceKind
	suffix string
}{
	{kindVM, ""},
	{kindNIC, suffixNIC},
	{kindIP, suffixIP},
	{kindVNet, suffixVNet},
	{kindNSG, suffixNSG},
	{kindDisk, suffixDisk},
}

// vmSpec holds everything needed to create the VM itself
type vmSpec struct {
	Name          string
	Location      string
	Size          string
	AdminUsername string
	SSHPublicKey  string
	CustomData    string
	NICID         string
	DiskName      string
	Tags          map[string]string
}

// azureResources is the narrow set of cloud calls the backend needs
type azureResources interface {
	CreateSecurityGroup(ctx context.Context, name, location string, tags map[string]string) (string, error)
	CreateVirtualNetwork(ctx context.Context, name, location, nsgID string, tags map[string]string) (subnetID string, err error)
	CreatePublicIP(ctx context.Context, name, location string, tags map[string]string) (id, address string, err error)
	CreateInterface(ctx context.Context, name, location, subnetID, publicIPID, nsgID string, tags map[string]string) (string, error)
	CreateVirtualMachine(ctx context.Context, spec vmSpec) (string, error)
	RunShellScript(ctx context.Context, vmName, script string) (string, error)
	Delete(ctx context.Context, kind resourceKind, name string) error
}

// AzureOptions configures the Azure backend
type AzureOptions struct {
	SubscriptionID string
	ResourceGroup  string
	Location       string
	AdminUsername  string
	SSHPublicKey   string
	VMSize         string
	Clock          clock.Clock
	Retry          RetryPolicy
	// ConfPollInterval is how often the VM is asked for the client configuration
	ConfPollInterval time.Duration
}

// AzureBackend provisions WireGuard VMs in an Azure resource group
type AzureBackend struct {
	opts AzureOptions
	api  azureResources
}

var _ Backend = (*AzureBackend)(nil)

// NewAzureBackend creates an Azure backend authenticated with the default credential chain
func NewAzureBackend(ctx context.Context, opts AzureOptions) (*AzureBackend, error) {
	if opts.SubscriptionID == "" || opts.ResourceGroup == "" {
		return nil, fmt.Errorf("azure backend requires a subscription and a resource group")
	}
	api, err := newARMResources(opts.SubscriptionID, opts.ResourceGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure clients: %w", err)
	}
	logger.Infof("Azure backend using resource group %s in %s", opts.ResourceGroup, opts.Location)
	return newAzureBackend(opts, api), nil
}

func newAzureBackend(opts AzureOptions, api azureResources) *AzureBackend {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.ConfPollInterval <= 0 {
		opts.ConfPollInterval = defaultConfPollInterval
	}
	return &AzureBackend{opts: opts, api: api}
}

// Name returns the backend mode
func (a *AzureBackend) Name() string {
	return BackendAzure
}

// VMName derives a machine name from the operation id
func (a *AzureBackend) VMName(operationID string) string {
	id := strings.ReplaceAll(operationID, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return azureVMPrefix + id
}

// Provision creates the network, the VM, and reads back the client configuration generated on the VM
func (a *AzureBackend) Provision(ctx context.Context, session Session, progress ProgressFunc) (*Result, error) {
	name := session.VMName
	if name == "" {
		name = a.VMName(session.OperationID)
	}
	location := session.Location
	if location == "" {
		location = a.opts.Location
	}
	tags := sessionTags(session)

	report(progress, MilestoneNetwork)
	var nsgID, subnetID, ipID, address, nicID string
	err := a.call(ctx, "create nsg", func() (err error) {
		nsgID, err = a.api.CreateSecurityGroup(ctx, name+suffixNSG, location, tags)
		return err
	})
	if err == nil {
		err = a.call(ctx, "create vnet", func() (err error) {
			subnetID, err = a.api.CreateVirtualNetwork(ctx, name+suffixVNet, location, nsgID, tags)
			return err
		})
	}
	if err == nil {
		err = a.call(ctx, "create public ip", func() (err error) {
			ipID, address, err = a.api.CreatePublicIP(ctx, name+suffixIP, location, tags)
			return err
		})
	}
	if err == nil {
		err = a.call(ctx, "create nic", func() (err error) {
			nicID, err = a.api.CreateInterface(ctx, name+suffixNIC, location, subnetID, ipID, nsgID, tags)
			return err
		})
	}
	if err != nil {
		return nil, stageError(StageNetwork, err)
	}
	if address == "" {
		return nil, stageError(StageNetwork, errors.New("public ip has no address"))
	}

	var vmID string
	err = a.call(ctx, "create vm", func() (err error) {
		vmID, err = a.api.CreateVirtualMachine(ctx, vmSpec{
			Name:          name,
			Location:      location,
			Size:          a.opts.VMSize,
			AdminUsername: a.opts.AdminUsername,
			SSHPublicKey:  a.opts.SSHPublicKey,
			CustomData:    CustomData(address),
			NICID:         nicID,
			DiskName:      name + suffixDisk,
			Tags:          tags,
		})
		return err
	})
	if err != nil {
		return nil, stageError(StageVM, err)
	}
	report(progress, MilestoneVMCreated)

	report(progress, MilestoneAgent)
	conf, err := a.waitForConf(ctx, name)
	if err != nil {
		return nil, stageError(StageWireGuard, err)
	}
	report(progress, MilestoneWireGuard)

	return &Result{PublicIP: address, ConfText: conf, VMID: vmID}, nil
}

// waitForConf polls the VM until cloud-init has written the client configuration
func (a *AzureBackend) waitForConf(ctx context.Context, vmName string) (string, error) {
	var lastErr error
	for {
		var output string
		err := a.call(ctx, "run command", func() (err error) {
			output, err = a.api.RunShellScript(ctx, vmName, ReadConfScript())
			return err
		})
		if err == nil {
			conf, convErr := ExtractConf(output)
			if convErr == nil {
				return conf, nil
			}
			lastErr = convErr
		} else {
			lastErr = err
		}
		logger.Debugf("client configuration for %s not ready: %v", vmName, lastErr)

		if err := sleep(ctx, a.opts.Clock, a.opts.ConfPollInterval); err != nil {
			return "", fmt.Errorf("timed out waiting for wireguard setup: %w", errors.Join(err, lastErr))
		}
	}
}

// Teardown deletes the VM and its resources in dependency order.
// Resources that are already gone count as deleted.
func (a *AzureBackend) Teardown(ctx context.Context, vmName string) error {
	var errs []error
	for _, r := range teardownOrder {
		name := vmName + r.suffix
		err := a.call(ctx, "delete "+string(r.kind), func() error {
			return a.api.Delete(ctx, r.kind, name)
		})
		switch {
		case err == nil:
			logger.Debugf("deleted %s %s", r.kind, name)
		case IsNotFound(err):
			logger.Debugf("%s %s already deleted", r.kind, name)
		default:
			logger.Warnf("could not delete %s %s: %v", r.kind, name, err)
			errs = append(errs, fmt.Errorf("delete %s %s: %w", r.kind, name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *AzureBackend) call(ctx context.Context, op string, f func() error) error {
	return callWithRetry(ctx, a.opts.Clock, a.opts.Retry, op, f)
}

func sessionTags(session Session) map[string]string {
	tags := map[string]string{
		"purpose":     "wireguard-vpn",
		"auto-delete": "true",
		"created-by":  "wgvpn",
	}
	if session.RequestedBy != "" {
		tags["requested-by"] = session.RequestedBy
	}
	if session.OperationID != "" {
		tags["operation-id"] = session.OperationID
	}
	return tags
}
