package verification

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Progress event names
const (
	EventWorkflowStart    = "workflow-start"
	EventWorkflowComplete = "workflow-complete"
	EventSynthesis        = "synthesis"
)

// FacetEventName returns the progress event name emitted after a facet is analyzed
func FacetEventName(facet Facet) string {
	return string(facet) + "-analysis"
}

// StatusEventName returns the event name emitted when a submission reaches status
func StatusEventName(status Status) string {
	return "submission-" + string(status)
}

// Event is a best-effort progress notification for dashboards
type Event struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SubmissionID string         `json:"submission_id"`
	Kind         Kind           `json:"kind"`
	Facet        Facet          `json:"facet,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// NewEvent stamps an event with an id and the current time
func NewEvent(name string, sub *Submission, data map[string]any) Event {
	return Event{
		ID:           uuid.NewString(),
		Name:         name,
		SubmissionID: sub.ID,
		Kind:         sub.Kind,
		Data:         data,
		Timestamp:    time.Now().UTC(),
	}
}

// Observer receives progress events. Notify must not block.
type Observer interface {
	Notify(event Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// Notify calls f(event)
func (f ObserverFunc) Notify(event Event) { f(event) }

// NopObserver discards every event
type NopObserver struct{}

// Notify does nothing
func (NopObserver) Notify(Event) {}

// Dispatcher fans events out to sinks. Every sink has its own queue and goroutine, so
// a slow sink delays only itself. Events are dropped when a sink's queue is full.
type Dispatcher struct {
	queues  []*sinkQueue
	logger  *zap.Logger
	dropped atomic.Int64
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type sinkQueue struct {
	sink   Observer
	events chan Event
}

// NewDispatcher starts a dispatcher delivering to sinks; buffer is the queue size per sink
func NewDispatcher(logger *zap.Logger, buffer int, sinks ...Observer) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	d := &Dispatcher{logger: logger}
	for _, sink := range sinks {
		q := &sinkQueue{sink: sink, events: make(chan Event, buffer)}
		d.queues = append(d.queues, q)
		d.wg.Add(1)
		go d.run(q)
	}
	return d
}

// Notify enqueues an event for every sink without blocking
func (d *Dispatcher) Notify(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	for _, q := range d.queues {
		select {
		case q.events <- event:
		default:
			if d.dropped.Add(1)%100 == 1 {
				d.logger.Warn("Progress sink queue full, dropping events",
					zap.String("event", event.Name),
					zap.Int64("dropped_total", d.dropped.Load()))
			}
		}
	}
}

// Dropped returns the number of deliveries discarded so far
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close drains queued events and stops the dispatcher
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			close(q.events)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(q *sinkQueue) {
	defer d.wg.Done()
	for event := range q.events {
		d.deliver(q.sink, event)
	}
}

func (d *Dispatcher) deliver(sink Observer, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Progress sink panicked",
				zap.String("event", event.Name),
				zap.Any("panic", r))
		}
	}()
	sink.Notify(event)
}
