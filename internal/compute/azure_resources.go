package compute

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork"
)

const (
	vnetAddressSpace = "10.0.0.0/16"
	subnetPrefix     = "10.0.0.0/24"
	subnetName       = "default"
)

// armResources implements azureResources with the Azure Resource Manager SDK
type armResources struct {
	resourceGroup string

	securityGroups  *armnetwork.SecurityGroupsClient
	virtualNetworks *armnetwork.VirtualNetworksClient
	publicIPs       *armnetwork.PublicIPAddressesClient
	interfaces      *armnetwork.InterfacesClient
	virtualMachines *armcompute.VirtualMachinesClient
	disks           *armcompute.DisksClient
}

func newARMResources(subscriptionID, resourceGroup string) (*armResources, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain azure credential: %w", err)
	}

	r := &armResources{resourceGroup: resourceGroup}
	if r.securityGroups, err = armnetwork.NewSecurityGroupsClient(subscriptionID, cred, nil); err != nil {
		return nil, err
	}
	if r.virtualNetworks, err = armnetwork.NewVirtualNetworksClient(subscriptionID, cred, nil); err != nil {
		return nil, err
	}
	if r.publicIPs, err = armnetwork.NewPublicIPAddressesClient(subscriptionID, cred, nil); err != nil {
		return nil, err
	}
	if r.interfaces, err = armnetwork.NewInterfacesClient(subscriptionID, cred, nil); err != nil {
		return nil, err
	}
	if r.virtualMachines, err = armcompute.NewVirtualMachinesClient(subscriptionID, cred, nil); err != nil {
		return nil, err
	}
	if r.disks, err = armcompute.NewDisksClient(subscriptionID, cred, nil); err != nil {
		return nil, err
	}
	return r, nil
}

func toTags(tags map[string]string) map[string]*string {
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = to.Ptr(v)
	}
	return out
}

func inboundRule(name string, priority int32, protocol armnetwork.SecurityRuleProtocol, port string) *armnetwork.SecurityRule {
	return &armnetwork.SecurityRule{
		Name: to.Ptr(name),
		Properties: &armnetwork.SecurityRulePropertiesFormat{
			Access:                   to.Ptr(armnetwork.SecurityRuleAccessAllow),
			Direction:                to.Ptr(armnetwork.SecurityRuleDirectionInbound),
			Protocol:                 to.Ptr(protocol),
			Priority:                 to.Ptr(priority),
			SourceAddressPrefix:      to.Ptr("*"),
			SourcePortRange:          to.Ptr("*"),
			DestinationAddressPrefix: to.Ptr("*"),
			DestinationPortRange:     to.Ptr(port),
		},
	}
}

func (r *armResources) CreateSecurityGroup(ctx context.Context, name, location string, tags map[string]string) (string, error) {
	poller, err := r.securityGroups.BeginCreateOrUpdate(ctx, r.resourceGroup, name, armnetwork.SecurityGroup{
		Location: to.Ptr(location),
		Tags:     toTags(tags),
		Properties: &armnetwork.SecurityGroupPropertiesFormat{
			SecurityRules: []*armnetwork.SecurityRule{
				inboundRule("allow-wireguard", 100, armnetwork.SecurityRuleProtocolUDP, fmt.Sprint(WireGuardPort)),
				inboundRule("allow-ssh", 110, armnetwork.SecurityRuleProtocolTCP, "22"),
			},
		},
	}, nil)
	if err != nil {
		return "", err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", err
	}
	return *resp.ID, nil
}

func (r *armResources) CreateVirtualNetwork(ctx context.Context, name, location, nsgID string, tags map[string]string) (string, error) {
	poller, err := r.virtualNetworks.BeginCreateOrUpdate(ctx, r.resourceGroup, name, armnetwork.VirtualNetwork{
		Location: to.Ptr(location),
		Tags:     toTags(tags),
		Properties: &armnetwork.VirtualNetworkPropertiesFormat{
			AddressSpace: &armnetwork.AddressSpace{
				AddressPrefixes: []*string{to.Ptr(vnetAddressSpace)},
			},
			Subnets: []*armnetwork.Subnet{{
				Name: to.Ptr(subnetName),
				Properties: &armnetwork.SubnetPropertiesFormat{
					AddressPrefix:        to.Ptr(subnetPrefix),
					NetworkSecurityGroup: &armnetwork.SecurityGroup{ID: to.Ptr(nsgID)},
				},
			}},
		},
	}, nil)
	if err != nil {
		return "", err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", err
	}
	if resp.Properties == nil || len(resp.Properties.Subnets) == 0 || resp.Properties.Subnets[0].ID == nil {
		return "", errors.New("virtual network has no subnet")
	}
	return *resp.Properties.Subnets[0].ID, nil
}

func (r *armResources) CreatePublicIP(ctx context.Context, name, location string, tags map[string]string) (string, string, error) {
	poller, err := r.publicIPs.BeginCreateOrUpdate(ctx, r.resourceGroup, name, armnetwork.PublicIPAddress{
		Location: to.Ptr(location),
		Tags:     toTags(tags),
		SKU: &armnetwork.PublicIPAddressSKU{
			Name: to.Ptr(armnetwork.PublicIPAddressSKUNameStandard),
		},
		Properties: &armnetwork.PublicIPAddressPropertiesFormat{
			PublicIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodStatic),
		},
	}, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", "", err
	}
	var address string
	if resp.Properties != nil && resp.Properties.IPAddress != nil {
		address = *resp.Properties.IPAddress
	}
	return *resp.ID, address, nil
}

func (r *armResources) CreateInterface(ctx context.Context, name, location, subnetID, publicIPID, nsgID string, tags map[string]string) (string, error) {
	poller, err := r.interfaces.BeginCreateOrUpdate(ctx, r.resourceGroup, name, armnetwork.Interface{
		Location: to.Ptr(location),
		Tags:     toTags(tags),
		Properties: &armnetwork.InterfacePropertiesFormat{
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{{
				Name: to.Ptr("ipconfig1"),
				Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
					PrivateIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
					Subnet:                    &armnetwork.Subnet{ID: to.Ptr(subnetID)},
					PublicIPAddress:           &armnetwork.PublicIPAddress{ID: to.Ptr(publicIPID)},
				},
			}},
			NetworkSecurityGroup: &armnetwork.SecurityGroup{ID: to.Ptr(nsgID)},
		},
	}, nil)
	if err != nil {
		return "", err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", err
	}
	return *resp.ID, nil
}

func (r *armResources) CreateVirtualMachine(ctx context.Context, spec vmSpec) (string, error) {
	linux := &armcompute.LinuxConfiguration{
		DisablePasswordAuthentication: to.Ptr(true),
	}
	if spec.SSHPublicKey != "" {
		linux.SSH = &armcompute.SSHConfiguration{
			PublicKeys: []*armcompute.SSHPublicKey{{
				Path:    to.Ptr(fmt.Sprintf("/home/%s/.ssh/authorized_keys", spec.AdminUsername)),
				KeyData: to.Ptr(spec.SSHPublicKey),
			}},
		}
	}

	poller, err := r.virtualMachines.BeginCreateOrUpdate(ctx, r.resourceGroup, spec.Name, armcompute.VirtualMachine{
		Location: to.Ptr(spec.Location),
		Tags:     toTags(spec.Tags),
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{
				VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(spec.Size)),
			},
			StorageProfile: &armcompute.StorageProfile{
				ImageReference: &armcompute.ImageReference{
					Publisher: to.Ptr("Canonical"),
					Offer:     to.Ptr("0001-com-ubuntu-server-jammy"),
					SKU:       to.Ptr("22_04-lts-gen2"),
					Version:   to.Ptr("latest"),
				},
				OSDisk: &armcompute.OSDisk{
					Name:         to.Ptr(spec.DiskName),
					CreateOption: to.Ptr(armcompute.DiskCreateOptionTypesFromImage),
					ManagedDisk: &armcompute.ManagedDiskParameters{
						StorageAccountType: to.Ptr(armcompute.StorageAccountTypesStandardLRS),
					},
				},
			},
			OSProfile: &armcompute.OSProfile{
				ComputerName:       to.Ptr(spec.Name),
				AdminUsername:      to.Ptr(spec.AdminUsername),
				CustomData:         to.Ptr(spec.CustomData),
				LinuxConfiguration: linux,
			},
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: []*armcompute.NetworkInterfaceReference{{
					ID: to.Ptr(spec.NICID),
				}},
			},
		},
	}, nil)
	if err != nil {
		return "", err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", err
	}
	return *resp.ID, nil
}

func (r *armResources) RunShellScript(ctx context.Context, vmName, script string) (string, error) {
	poller, err := r.virtualMachines.BeginRunCommand(ctx, r.resourceGroup, vmName, armcompute.RunCommandInput{
		CommandID: to.Ptr("RunShellScript"),
		Script:    []*string{to.Ptr(script)},
	}, nil)
	if err != nil {
		return "", err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, status := range resp.Value {
		if status != nil && status.Message != nil {
			out.WriteString(*status.Message)
		}
	}
	return out.String(), nil
}

func (r *armResources) Delete(ctx context.Context, kind resourceKind, name string) error {
	var wait func() error
	switch kind {
	case kindVM:
		poller, err := r.virtualMachines.BeginDelete(ctx, r.resourceGroup, name, nil)
		if err != nil {
			return err
		}
		wait = func() error { _, err := poller.PollUntilDone(ctx, nil); return err }
	case kindNIC:
		poller, err := r.interfaces.BeginDelete(ctx, r.resourceGroup, name, nil)
		if err != nil {
			return err
		}
		wait = func() error { _, err := poller.PollUntilDone(ctx, nil); return err }
	case kindIP:
		poller, err := r.publicIPs.BeginDelete(ctx, r.resourceGroup, name, nil)
		if err != nil {
			return err
		}
		wait = func() error { _, err := poller.PollUntilDone(ctx, nil); return err }
	case kindVNet:
		poller, err := r.virtualNetworks.BeginDelete(ctx, r.resourceGroup, name, nil)
		if err != nil {
			return err
		}
		wait = func() error { _, err := poller.PollUntilDone(ctx, nil); return err }
	case kindNSG:
		poller, err := r.securityGroups.BeginDelete(ctx, r.resourceGroup, name, nil)
		if err != nil {
			return err
		}
		wait = func() error { _, err := poller.PollUntilDone(ctx, nil); return err }
	case kindDisk:
		poller, err := r.disks.BeginDelete(ctx, r.resourceGroup, name, nil)
		if err != nil {
			return err
		}
		wait = func() error { _, err := poller.PollUntilDone(ctx, nil); return err }
	default:
		return fmt.Errorf("unknown resource kind %q", kind)
	}
	return wait()
}
