package bus

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one event on the live feed, already marshalled for transport.
type Entry struct {
	ID   int64     `json:"id"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"`
}

// Feed is an in-memory fan-out with a small ring buffer for late clients
// (SSE connections, the watch TUI). Slow clients drop events rather than
// block publishers.
type Feed struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Entry
	start int
	size  int

	subs      map[int]chan Entry
	nextSubID int
}

func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 1
	}
	return &Feed{
		ring: make([]Entry, capacity),
		subs: make(map[int]chan Entry),
	}
}

func (f *Feed) Publish(kind string, data any) {
	id := f.nextID.Add(1)

	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	e := Entry{
		ID:   id,
		Kind: kind,
		At:   time.Now().UTC(),
		Data: payload,
	}

	f.mu.Lock()
	f.pushLocked(e)
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
	f.mu.Unlock()
}

func (f *Feed) Subscribe() (<-chan Entry, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSubID
	f.nextSubID++
	ch := make(chan Entry, 32)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
		f.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered entries with ID > lastID, oldest-first.
// If lastID is 0, the full buffer is returned.
func (f *Feed) SnapshotSince(lastID int64) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Entry, 0, f.size)
	for i := 0; i < f.size; i++ {
		e := f.ring[(f.start+i)%len(f.ring)]
		if lastID == 0 || e.ID > lastID {
			out = append(out, e)
		}
	}
	return out
}

func (f *Feed) pushLocked(e Entry) {
	capacity := len(f.ring)
	if f.size < capacity {
		f.ring[(f.start+f.size)%capacity] = e
		f.size++
		return
	}

	// Overwrite oldest.
	f.ring[f.start] = e
	f.start = (f.start + 1) % capacity
}
