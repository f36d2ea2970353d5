// Package bus is the process-wide publish/subscribe core. Handlers are
// registered against concrete event types and invoked in registration order;
// a failing handler is logged and isolated, never surfaced to the publisher.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/itops/hub/internal/event"
)

type handler func(ctx context.Context, ev event.Event) error

// Bus routes published events to subscribed handlers and keeps a bounded
// history per event kind. Construct one per process and inject it; there is
// no package-level instance.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[reflect.Type][]handler
	history  map[string]*ring

	// async tracks fire-and-forget handler continuations so tests can wait
	// for them deterministically.
	async sync.WaitGroup

	feed *Feed
}

// New creates an empty bus. The feed buffers the last feedCapacity events for
// late SSE/TUI clients.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:   logger,
		handlers: make(map[reflect.Type][]handler),
		history:  make(map[string]*ring),
		feed:     NewFeed(feedCapacity),
	}
}

const feedCapacity = 100

// Subscribe registers fn for events of concrete type T. Registration may
// happen at any time; events published before registration are not replayed.
func Subscribe[T event.Event](b *Bus, fn func(ctx context.Context, ev T) error) {
	key := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(ctx context.Context, ev event.Event) error {
		return fn(ctx, ev.(T))
	}
	b.mu.Lock()
	b.handlers[key] = append(b.handlers[key], wrapped)
	b.mu.Unlock()
}

// Publish stamps ev with source and the current time, appends it to its
// kind's history ring, and invokes every handler registered for its concrete
// type in registration order. Handler panics and errors are logged and do not
// propagate; Publish never fails.
func (b *Bus) Publish(ctx context.Context, source string, ev event.Event) {
	event.Stamp(ev, source, time.Now().UTC())
	kind := ev.Kind()

	b.mu.Lock()
	r, ok := b.history[kind]
	if !ok {
		r = newRing(historyCapacity)
		b.history[kind] = r
	}
	r.push(ev)
	hs := append([]handler(nil), b.handlers[reflect.TypeOf(ev)]...)
	b.mu.Unlock()

	b.logger.Info("event published", "kind", kind, "event_source", source)
	b.feed.Publish(kind, ev)

	for _, h := range hs {
		b.invoke(ctx, kind, h, ev)
	}
}

func (b *Bus) invoke(ctx context.Context, kind string, h handler, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked", "kind", kind, "panic", fmt.Sprint(r))
		}
	}()
	if err := h(ctx, ev); err != nil {
		b.logger.Error("handler failed", "kind", kind, "error", err)
	}
}

// Go runs fn on its own goroutine for handlers whose work outlives the
// Publish call (outbound HTTP, process invocation). Errors and panics are
// logged against kind and discarded.
func (b *Bus) Go(kind string, fn func() error) {
	b.async.Add(1)
	go func() {
		defer b.async.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("async handler panicked", "kind", kind, "panic", fmt.Sprint(r))
			}
		}()
		if err := fn(); err != nil {
			b.logger.Error("async handler failed", "kind", kind, "error", err)
		}
	}()
}

// Wait blocks until all async continuations started with Go have finished.
// Test hook; production code never calls it.
func (b *Bus) Wait() {
	b.async.Wait()
}

// Recent returns the retained history for kind in publish order, oldest
// first. The returned slice is a copy.
func (b *Bus) Recent(kind string) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.history[kind]
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Kinds returns the names of every kind that has been published, sorted.
func (b *Bus) Kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make([]string, 0, len(b.history))
	for k := range b.history {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Feed exposes the sequence-numbered live feed for SSE and TUI clients.
func (b *Bus) Feed() *Feed {
	return b.feed
}
