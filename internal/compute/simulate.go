package compute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/celestiaorg/wgvpn/internal/logger"
)

// Simulated provisioning steps, in order
const (
	StepNetwork   = "Creating network resources"
	StepVM        = "Creating VM"
	StepWireGuard = "Installing WireGuard"
)

// Placeholder keys rendered into simulated client configurations
const (
	SimulatedClientPrivateKey = "cOFA1gfMGvoDSJHKOlk5XaXDQZCOVAn3wR4SbQsXX3Q="
	SimulatedServerPublicKey  = "n/fMKKDjMxKNvSZHQTWYUCYDcTGgTwMJkLc0X7rTgXo="
)

const simulatedVMPrefix = "wg-vm-dry-run-"

// ErrSimulatedFailure is returned when FailAt names a step
var ErrSimulatedFailure = errors.New("simulated failure")

// SimulateBackend walks through the provisioning steps on a timer and returns canned results
type SimulateBackend struct {
	clock     clock.Clock
	stepDelay time.Duration

	// FailAt makes Provision fail when it reaches the named step
	FailAt string

	mu       sync.Mutex
	counter  int
	sessions map[string]string
	torn     []string
}

var _ Backend = (*SimulateBackend)(nil)

// NewSimulateBackend creates a simulated backend advancing one step every stepDelay on clk
func NewSimulateBackend(clk clock.Clock, stepDelay time.Duration) *SimulateBackend {
	if clk == nil {
		clk = clock.WallClock
	}
	return &SimulateBackend{
		clock:     clk,
		stepDelay: stepDelay,
		sessions:  make(map[string]string),
	}
}

// Name returns the backend mode
func (s *SimulateBackend) Name() string {
	return BackendSimulate
}

// VMName returns the next dry run machine name
func (s *SimulateBackend) VMName(string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return fmt.Sprintf("%s%d", simulatedVMPrefix, s.counter)
}

// Provision pretends to create a VM, reporting each step
func (s *SimulateBackend) Provision(ctx context.Context, session Session, progress ProgressFunc) (*Result, error) {
	if session.VMName == "" {
		session.VMName = s.VMName(session.OperationID)
	}
	logger.Infof("DRY RUN: provisioning %s in %s", session.VMName, session.Location)

	steps := []struct{ name, stage string }{
		{StepNetwork, StageNetwork},
		{StepVM, StageVM},
		{StepWireGuard, StageWireGuard},
	}
	for _, step := range steps {
		report(progress, step.name)
		if s.FailAt == step.name {
			return nil, stageError(step.stage, ErrSimulatedFailure)
		}
		if err := sleep(ctx, s.clock, s.stepDelay); err != nil {
			return nil, stageError(step.stage, err)
		}
	}

	ip := SimulatedIP(session.VMName)
	s.mu.Lock()
	s.sessions[session.VMName] = ip
	s.mu.Unlock()

	return &Result{
		PublicIP: ip,
		ConfText: NewClientConfig(SimulatedClientPrivateKey, SimulatedServerPublicKey, ip).Render(),
		VMID:     session.VMName,
	}, nil
}

// Teardown forgets the simulated VM
func (s *SimulateBackend) Teardown(ctx context.Context, vmName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Infof("DRY RUN: would delete VM %s", vmName)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, vmName)
	s.torn = append(s.torn, vmName)
	return nil
}

// Active returns the number of simulated VMs that have not been torn down
func (s *SimulateBackend) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// TornDown returns the VM names passed to Teardown, in call order
func (s *SimulateBackend) TornDown() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.torn...)
}

// SimulatedIP derives a TEST-NET-3 address from a dry run machine name
func SimulatedIP(vmName string) string {
	var n int
	if _, err := fmt.Sscanf(strings.TrimPrefix(vmName, simulatedVMPrefix), "%d", &n); err != nil {
		for _, r := range vmName {
			n += int(r)
		}
	}
	return fmt.Sprintf("203.0.113.%d", n%254+1)
}
