// Package events provides job lifecycle event handling
package events

import (
	"context"
	"sync"
	"time"

	"github.com/celestiaorg/wgvpn/internal/logger"
)

// EventType represents the type of job event
type EventType string

const (
	// EventJobStarted is emitted when a job is accepted
	EventJobStarted EventType = "job_started"
	// EventJobCompleted is emitted when provisioning succeeds
	EventJobCompleted EventType = "job_completed"
	// EventJobFailed is emitted when a job reaches the failed state
	EventJobFailed EventType = "job_failed"
	// EventSessionExpired is emitted when a VPN session is torn down
	EventSessionExpired EventType = "session_expired"
	// EventChannelSize is the buffer size for the event channel
	EventChannelSize = 100
)

// Event represents a job lifecycle event
type Event struct {
	Type        EventType     // The type of event
	OperationID string        // The job operation id
	Backend     string        // The provisioning backend
	VMName      string        // The VM the job created
	Error       string        // The failure reason for failed jobs
	Reason      string        // Why a session ended or a job was failed
	Duration    time.Duration // Provisioning time for terminal jobs
	Success     bool          // Whether a teardown succeeded
}

// Handler is a function that handles an event
type Handler func(context.Context, Event) error

// Bus dispatches published events to subscribed handlers
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	ch       chan Event
	wg       sync.WaitGroup
}

// NewBus creates an event bus; events are dispatched once Start is called
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		ch:       make(chan Event, EventChannelSize),
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	logger.Debugf("Registered handler for event type: %s", eventType)
}

// Publish queues an event; it never blocks and drops the event when the queue is full
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	select {
	case b.ch <- event:
		logger.Debugf("Published event: %s (operation: %s)", event.Type, event.OperationID)
	default:
		logger.Warnf("Event queue full, dropping %s for operation %s", event.Type, event.OperationID)
	}
}

// Start starts the event processing loop
func (b *Bus) Start(ctx context.Context) {
	go b.process(ctx)
	logger.Info("Started event processing loop")
}

// Wait blocks until handlers already dispatched have returned
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping event processing loop")
			return
		case event := <-b.ch:
			b.mu.RLock()
			eventHandlers := b.handlers[event.Type]
			b.mu.RUnlock()

			for _, handler := range eventHandlers {
				b.wg.Add(1)
				go func(h Handler, e Event) {
					defer b.wg.Done()
					if err := h(ctx, e); err != nil {
						logger.Errorf("Failed to handle event %s: %v", e.Type, err)
					}
				}(handler, event)
			}
		}
	}
}
