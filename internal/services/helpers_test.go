package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/wgvpn/internal/compute"
	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/store"
)

type provisionFunc func(ctx context.Context, session compute.Session, progress compute.ProgressFunc) (*compute.Result, error)

// stubBackend is a scriptable compute.Backend
type stubBackend struct {
	provision   provisionFunc
	teardownErr error
	// teardown replaces the default bookkeeping-only teardown when set
	teardown func(ctx context.Context, vmName string) error

	mu    sync.Mutex
	count int
	torn  []string
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) VMName(string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	return fmt.Sprintf("stub-vm-%d", b.count)
}

func (b *stubBackend) Provision(ctx context.Context, session compute.Session, progress compute.ProgressFunc) (*compute.Result, error) {
	return b.provision(ctx, session, progress)
}

func (b *stubBackend) Teardown(ctx context.Context, vmName string) error {
	b.mu.Lock()
	b.torn = append(b.torn, vmName)
	fn, err := b.teardown, b.teardownErr
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, vmName)
	}
	return err
}

func (b *stubBackend) tornDown() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.torn...)
}

func okResult(session compute.Session) *compute.Result {
	return &compute.Result{
		PublicIP: "198.51.100.1",
		ConfText: compute.NewClientConfig("k", "p", "198.51.100.1").Render(),
		VMID:     "/vm/" + session.VMName,
	}
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("op-%d", n)
	}
}

// waitForTerminal polls s until the job is completed or failed
func waitForTerminal(t *testing.T, s store.Store, id string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		got, err := s.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached a terminal state", id)
	return job
}
