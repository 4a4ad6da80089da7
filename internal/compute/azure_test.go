package compute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResources records calls and returns scripted failures
type fakeResources struct {
	mu       sync.Mutex
	calls    []string
	tags     map[string]string
	custom   string
	failures map[string][]error
	// confAfter is how many run-command calls return an empty configuration first
	confAfter int
	runs      int
}

func newFakeResources() *fakeResources {
	return &fakeResources{failures: make(map[string][]error)}
}

func (f *fakeResources) fail(op string, errs ...error) {
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeResources) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if errs := f.failures[op]; len(errs) > 0 {
		f.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeResources) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeResources) CreateSecurityGroup(_ context.Context, name, _ string, tags map[string]string) (string, error) {
	f.tags = tags
	return "/nsg/" + name, f.record("nsg " + name)
}

func (f *fakeResources) CreateVirtualNetwork(_ context.Context, name, _, _ string, _ map[string]string) (string, error) {
	return "/vnet/" + name + "/subnets/default", f.record("vnet " + name)
}

func (f *fakeResources) CreatePublicIP(_ context.Context, name, _ string, _ map[string]string) (string, string, error) {
	return "/ip/" + name, "198.51.100.10", f.record("ip " + name)
}

func (f *fakeResources) CreateInterface(_ context.Context, name, _, _, _, _ string, _ map[string]string) (string, error) {
	return "/nic/" + name, f.record("nic " + name)
}

func (f *fakeResources) CreateVirtualMachine(_ context.Context, spec vmSpec) (string, error) {
	f.custom = spec.CustomData
	return "/vm/" + spec.Name, f.record("vm " + spec.Name)
}

func (f *fakeResources) RunShellScript(_ context.Context, vmName, _ string) (string, error) {
	if err := f.record("run " + vmName); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if f.runs <= f.confAfter {
		return "Enable succeeded: \n[stdout]\n\n[stderr]\n", nil
	}
	conf := NewClientConfig("generated", "server", "198.51.100.10").Render()
	return "Enable succeeded: \n[stdout]\n" + conf + "\n[stderr]\n", nil
}

func (f *fakeResources) Delete(_ context.Context, kind resourceKind, name string) error {
	return f.record(fmt.Sprintf("delete %s %s", kind, name))
}

func responseError(status int) error {
	req, _ := http.NewRequest(http.MethodPut, "https://management.azure.com/subscriptions/sub/resourceGroups/rg", nil)
	return runtime.NewResponseError(&http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{"error":{"code":"TestError"}}`)),
		Request:    req,
	})
}

func newTestAzureBackend(api azureResources) *AzureBackend {
	return newAzureBackend(AzureOptions{
		SubscriptionID:   "sub",
		ResourceGroup:    "rg",
		Location:         "eastus",
		AdminUsername:    "azureuser",
		VMSize:           "Standard_B1ls",
		Clock:            clock.WallClock,
		Retry:            RetryPolicy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		ConfPollInterval: time.Millisecond,
	}, api)
}

func TestAzureProvision(t *testing.T) {
	api := newFakeResources()
	api.confAfter = 2
	backend := newTestAzureBackend(api)
	progress := &progressRecorder{}

	session := Session{OperationID: "0f8c1c9e-aaaa-bbbb", RequestedBy: "user@example.com"}
	session.VMName = backend.VMName(session.OperationID)
	require.Equal(t, "wg-vm-0f8c1c9eaaaa", session.VMName)

	res, err := backend.Provision(context.Background(), session, progress.record)
	require.NoError(t, err)

	assert.Equal(t, "198.51.100.10", res.PublicIP)
	assert.Equal(t, "/vm/wg-vm-0f8c1c9eaaaa", res.VMID)
	assert.Contains(t, res.ConfText, "[Interface]")
	assert.Equal(t, []string{MilestoneNetwork, MilestoneVMCreated, MilestoneAgent, MilestoneWireGuard}, progress.all())
	assert.Equal(t, []string{
		"nsg wg-vm-0f8c1c9eaaaa-nsg",
		"vnet wg-vm-0f8c1c9eaaaa-vnet",
		"ip wg-vm-0f8c1c9eaaaa-ip",
		"nic wg-vm-0f8c1c9eaaaa-nic",
		"vm wg-vm-0f8c1c9eaaaa",
		"run wg-vm-0f8c1c9eaaaa",
		"run wg-vm-0f8c1c9eaaaa",
		"run wg-vm-0f8c1c9eaaaa",
	}, api.recorded())
	assert.Equal(t, "user@example.com", api.tags["requested-by"])
	assert.Equal(t, "wgvpn", api.tags["created-by"])
	assert.Equal(t, "true", api.tags["auto-delete"])
	assert.Equal(t, CustomData("198.51.100.10"), api.custom)
}

func TestAzureProvisionRetriesThrottling(t *testing.T) {
	api := newFakeResources()
	api.fail("vm wg-vm-1", responseError(http.StatusTooManyRequests), responseError(http.StatusServiceUnavailable))
	backend := newTestAzureBackend(api)

	_, err := backend.Provision(context.Background(), Session{VMName: "wg-vm-1"}, nil)
	require.NoError(t, err)

	vmCalls := 0
	for _, c := range api.recorded() {
		if c == "vm wg-vm-1" {
			vmCalls++
		}
	}
	assert.Equal(t, 3, vmCalls)
}

func TestAzureProvisionFailures(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		errs      []error
		wantStage string
		wantCalls int
	}{
		{
			name:      "non retryable network error",
			op:        "nsg wg-vm-1-nsg",
			errs:      []error{responseError(http.StatusForbidden)},
			wantStage: StageNetwork,
			wantCalls: 1,
		},
		{
			name: "throttling exhausts attempts",
			op:   "vm wg-vm-1",
			errs: []error{
				responseError(http.StatusTooManyRequests),
				responseError(http.StatusTooManyRequests),
				responseError(http.StatusTooManyRequests),
			},
			wantStage: StageVM,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeResources()
			api.fail(tt.op, tt.errs...)
			backend := newTestAzureBackend(api)

			_, err := backend.Provision(context.Background(), Session{VMName: "wg-vm-1"}, nil)
			require.Error(t, err)

			var perr *ProvisionError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.wantStage, perr.Stage)

			var respErr *azcore.ResponseError
			assert.True(t, errors.As(err, &respErr))

			calls := 0
			for _, c := range api.recorded() {
				if c == tt.op {
					calls++
				}
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestAzureProvisionTimesOutWaitingForConf(t *testing.T) {
	api := newFakeResources()
	api.confAfter = 1 << 30
	backend := newTestAzureBackend(api)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := backend.Provision(ctx, Session{VMName: "wg-vm-1"}, nil)
	require.Error(t, err)

	var perr *ProvisionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StageWireGuard, perr.Stage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAzureTeardown(t *testing.T) {
	t.Run("deletes in dependency order", func(t *testing.T) {
		api := newFakeResources()
		backend := newTestAzureBackend(api)

		require.NoError(t, backend.Teardown(context.Background(), "wg-vm-1"))
		assert.Equal(t, []string{
			"delete virtual machine wg-vm-1",
			"delete network interface wg-vm-1-nic",
			"delete public ip wg-vm-1-ip",
			"delete virtual network wg-vm-1-vnet",
			"delete network security group wg-vm-1-nsg",
			"delete disk wg-vm-1-disk",
		}, api.recorded())
	})

	t.Run("not found counts as deleted", func(t *testing.T) {
		api := newFakeResources()
		api.fail("delete virtual machine wg-vm-1", responseError(http.StatusNotFound))
		backend := newTestAzureBackend(api)

		assert.NoError(t, backend.Teardown(context.Background(), "wg-vm-1"))
	})

	t.Run("keeps going and joins errors", func(t *testing.T) {
		api := newFakeResources()
		api.fail("delete network interface wg-vm-1-nic", responseError(http.StatusConflict))
		api.fail("delete disk wg-vm-1-disk", errors.New("boom"))
		backend := newTestAzureBackend(api)

		err := backend.Teardown(context.Background(), "wg-vm-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wg-vm-1-nic")
		assert.Contains(t, err.Error(), "boom")
		assert.Len(t, api.recorded(), 6)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(responseError(http.StatusTooManyRequests)))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", responseError(http.StatusBadGateway))))
	assert.False(t, IsRetryable(responseError(http.StatusBadRequest)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsNotFound(responseError(http.StatusNotFound)))
	assert.False(t, IsNotFound(responseError(http.StatusConflict)))
}
