package eventbus

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRingSize is the default capacity of the recent-events ring buffer.
const DefaultRingSize = 1000

// Handler receives a dispatched event. A handler must not block for long —
// it runs synchronously on the emitter's call path.
type Handler func(Event)

// Bus is an in-process, synchronous typed pub/sub. Subscriptions are
// per-type plus a wildcard; handlers for a single emission run in
// subscription order and complete before Publish returns, matching the
// event-bus concurrency rule in spec §5.
type Bus struct {
	mu       sync.Mutex
	handlers map[Type][]Handler
	wildcard []Handler
	ring     []Event
	ringSize int
	next     int
	log      *slog.Logger
}

// New creates a Bus with the given ring size (DefaultRingSize when zero)
// and logger (slog.Default() when nil).
func New(ringSize int, log *slog.Logger) *Bus {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		handlers: make(map[Type][]Handler),
		ringSize: ringSize,
		log:      log,
	}
}

// Subscribe registers h for events of the given type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, h)
}

// Publish stamps the event with a fresh id (if not already set) and the
// current time (if At is zero), keeping its concrete type so handlers can
// type-assert it, and dispatches it to matching per-type handlers, then
// wildcard handlers, in subscription order. A handler panic is recovered,
// logged, and does not prevent later handlers from running.
func (b *Bus) Publish(e Event) Event {
	if v := reflect.ValueOf(e); v.Kind() == reflect.Struct {
		cp := reflect.New(v.Type()).Elem()
		cp.Set(v)
		if f := cp.FieldByName("Base"); f.IsValid() && f.Type() == reflect.TypeOf(Base{}) {
			base := f.Addr().Interface().(*Base)
			if base.ID == "" {
				base.ID = uuid.NewString()
			}
			if base.At.IsZero() {
				base.At = time.Now()
			}
			e = cp.Interface().(Event)
		}
	}

	b.mu.Lock()
	typed := append([]Handler(nil), b.handlers[e.Type()]...)
	wild := append([]Handler(nil), b.wildcard...)
	b.record(e)
	b.mu.Unlock()

	for _, h := range typed {
		b.invoke(h, e)
	}
	for _, h := range wild {
		b.invoke(h, e)
	}
	return e
}

func (b *Bus) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: handler panic", "type", e.Type(), "panic", fmt.Sprint(r))
		}
	}()
	h(e)
}

// record appends e to the ring buffer, evicting the oldest entry once full.
// Callers must hold b.mu.
func (b *Bus) record(e Event) {
	if len(b.ring) < b.ringSize {
		b.ring = append(b.ring, e)
		return
	}
	b.ring[b.next] = e
	b.next = (b.next + 1) % b.ringSize
}

// Recent returns ring-buffer events, oldest first, optionally filtered by
// type and/or task id. An empty filter value matches everything.
func (b *Bus) Recent(t Type, taskID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ordered := make([]Event, 0, len(b.ring))
	if len(b.ring) < b.ringSize {
		ordered = append(ordered, b.ring...)
	} else {
		ordered = append(ordered, b.ring[b.next:]...)
		ordered = append(ordered, b.ring[:b.next]...)
	}

	out := make([]Event, 0, len(ordered))
	for _, e := range ordered {
		if t != "" && e.Type() != t {
			continue
		}
		if taskID != "" && e.TaskID() != taskID {
			continue
		}
		out = append(out, e)
	}
	return out
}
