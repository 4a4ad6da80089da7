package metrics

import (
	"context"

	"github.com/celestiaorg/wgvpn/internal/db/models"
	"github.com/celestiaorg/wgvpn/internal/events"
)

// Subscribe feeds job lifecycle events from bus into the collectors
func Subscribe(bus *events.Bus) {
	bus.Subscribe(events.EventJobStarted, func(_ context.Context, _ events.Event) error {
		IncJobStarted()
		return nil
	})
	bus.Subscribe(events.EventJobCompleted, func(_ context.Context, e events.Event) error {
		ObserveJobFinished(e.Backend, models.JobStatusCompleted.String(), e.Duration)
		return nil
	})
	bus.Subscribe(events.EventJobFailed, func(_ context.Context, e events.Event) error {
		ObserveJobFinished(e.Backend, models.JobStatusFailed.String(), e.Duration)
		return nil
	})
	bus.Subscribe(events.EventSessionExpired, func(_ context.Context, e events.Event) error {
		IncTeardown(e.Reason, e.Success)
		return nil
	})
}
