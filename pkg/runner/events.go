package runner

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/systemstart/browser-build/pkg/steps"
)

// EventType names a lifecycle event.
type EventType string

const (
	PipelineStart EventType = "PIPELINE_START"
	PipelineEnd   EventType = "PIPELINE_END"
	StepStart     EventType = "STEP_START"
	StepEnd       EventType = "STEP_END"
	StepSkip      EventType = "STEP_SKIP"
	StepError     EventType = "STEP_ERROR"
)

// EventTypes lists every event type in emission order.
var EventTypes = []EventType{PipelineStart, StepStart, StepSkip, StepEnd, StepError, PipelineEnd}

// Event is the record handed to subscribers. Handlers receive their own
// copy of Metadata.
type Event struct {
	Type     EventType
	RunID    string
	Pipeline string
	Time     time.Time

	// Step and Index are set on step events.
	Step  string
	Index int

	// Duration is the step's duration on STEP_END and STEP_ERROR, and the
	// whole run's on PIPELINE_END.
	Duration time.Duration

	Success bool
	Message string
	Result  *steps.Result
	Err     error

	Metadata map[string]any
}

// Handler receives events. A panicking handler is recovered and logged.
type Handler func(Event)

// Subscriber is the registration point sinks attach to.
type Subscriber interface {
	Subscribe(t EventType, h Handler)
}

// Bus dispatches events to handlers synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[EventType][]Handler)
	}
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers h for every event type.
func SubscribeAll(s Subscriber, h Handler) {
	for _, t := range EventTypes {
		s.Subscribe(t, h)
	}
}

// Emit delivers e to every handler subscribed to its type.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	handlers := b.handlers[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		ev := e
		ev.Metadata = maps.Clone(e.Metadata)
		deliver(h, ev)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event", e.Type, "step", e.Step, "panic", r)
		}
	}()
	h(e)
}
