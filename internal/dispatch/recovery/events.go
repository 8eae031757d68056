package recovery

import (
	"sync"
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
)

// EventName identifies a recovery state transition.
type EventName string

const (
	EventRetrySucceeded   EventName = "retry_succeeded"
	EventFallbackWrite    EventName = "fallback_write"
	EventDeadLetter       EventName = "dead_letter"
	EventOfflineMode      EventName = "offline_mode"
	EventCleanupRequested EventName = "cleanup_requested"
	EventCircuitRejected  EventName = "circuit_rejected"
	EventCircuitOpened    EventName = "circuit_opened"
	EventCircuitReset     EventName = "circuit_reset"
)

// Event is the payload delivered to listeners.
type Event struct {
	Name      EventName            `json:"name"`
	Category  domain.ErrorCategory `json:"category"`
	RequestID string               `json:"requestId,omitempty"`
	Detail    string               `json:"detail,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Listener receives recovery events. Listeners run synchronously on the
// emitting goroutine and must not block.
type Listener func(Event)

type registration struct {
	id   int
	fn   Listener
	once bool
}

// EventRegistry is a per-event-name listener set with add, remove, and
// fire-once registration.
type EventRegistry struct {
	mu     sync.Mutex
	nextID int
	byName map[EventName][]registration
}

// Subscription identifies a registered listener for later removal.
type Subscription struct {
	name EventName
	id   int
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{byName: make(map[EventName][]registration)}
}

// On registers a listener for every occurrence of name.
func (r *EventRegistry) On(name EventName, fn Listener) Subscription {
	return r.add(name, fn, false)
}

// Once registers a listener removed after its first delivery.
func (r *EventRegistry) Once(name EventName, fn Listener) Subscription {
	return r.add(name, fn, true)
}

func (r *EventRegistry) add(name EventName, fn Listener, once bool) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.byName[name] = append(r.byName[name], registration{id: r.nextID, fn: fn, once: once})
	return Subscription{name: name, id: r.nextID}
}

// Off removes a listener. Removing an already-removed subscription is a
// no-op.
func (r *EventRegistry) Off(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.byName[sub.name]
	for i, reg := range regs {
		if reg.id == sub.id {
			r.byName[sub.name] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Listeners returns the number of listeners registered for name.
func (r *EventRegistry) Listeners(name EventName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName[name])
}

// emit delivers the event to a snapshot of the current listeners, so a
// listener may register or remove listeners without deadlocking.
func (r *EventRegistry) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	r.mu.Lock()
	regs := r.byName[ev.Name]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	kept := regs[:0]
	for _, reg := range regs {
		if !reg.once {
			kept = append(kept, reg)
		}
	}
	r.byName[ev.Name] = kept
	r.mu.Unlock()

	for _, reg := range snapshot {
		reg.fn(ev)
	}
}
