// Package compute provides the provisioning backends that create and destroy WireGuard VPN machines
package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/celestiaorg/wgvpn/config"
)

// Backend names reported by Name
const (
	BackendSimulate = config.BackendSimulate
	BackendAzure    = config.BackendAzure
)

// Provisioning stages used in ProvisionError
const (
	StageNetwork   = "network"
	StageVM        = "vm"
	StageWireGuard = "wireguard"
)

// ProgressFunc reports a human readable milestone while a VM is being provisioned
type ProgressFunc func(progress string)

// Session describes one VPN session to provision
type Session struct {
	OperationID string
	// VMName is allocated by the caller so that partially created resources can be torn down
	VMName      string
	Location    string
	RequestedBy string
}

// Result is what a successful provisioning returns
type Result struct {
	PublicIP string
	ConfText string
	VMID     string
}

// Backend defines the interface for VM provisioning backends
type Backend interface {
	// Name returns the backend mode
	Name() string

	// VMName allocates the machine name for a new session
	VMName(operationID string) string

	// Provision creates the VM and returns the client configuration.
	// It blocks until the VM is ready, ctx is done, or an unrecoverable error occurs.
	Provision(ctx context.Context, session Session, progress ProgressFunc) (*Result, error)

	// Teardown deletes the VM and every resource created for it
	Teardown(ctx context.Context, vmName string) error
}

// ProvisionError reports the stage at which provisioning failed
type ProvisionError struct {
	Stage string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &ProvisionError{Stage: stage, Err: err}
}

// NewBackend creates the backend selected by the configuration
func NewBackend(ctx context.Context, cfg config.Config, clk clock.Clock) (Backend, error) {
	switch cfg.Backend.Mode {
	case config.BackendSimulate:
		return NewSimulateBackend(clk, cfg.Backend.SimulateStepDelay), nil
	case config.BackendAzure:
		return NewAzureBackend(ctx, AzureOptions{
			SubscriptionID: cfg.Azure.SubscriptionID,
			ResourceGroup:  cfg.Azure.ResourceGroup,
			Location:       cfg.Azure.Location,
			AdminUsername:  cfg.Azure.AdminUsername,
			SSHPublicKey:   cfg.Azure.SSHPublicKey,
			VMSize:         cfg.Azure.VMSize,
			Clock:          clk,
		})
	default:
		return nil, fmt.Errorf("unsupported backend mode: %s", cfg.Backend.Mode)
	}
}

func report(progress ProgressFunc, msg string) {
	if progress != nil {
		progress(msg)
	}
}

// sleep waits on the given clock or returns early when ctx is done
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
