package bus

import "github.com/itops/hub/internal/event"

// historyCapacity bounds the per-kind history; oldest entries are evicted
// first. The status page shows at most this many events per kind.
const historyCapacity = 25

// ring is a fixed-capacity event buffer. Only the bus touches it, always
// under the bus mutex.
type ring struct {
	buf   []event.Event
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]event.Event, capacity)}
}

func (r *ring) push(ev event.Event) {
	capacity := len(r.buf)
	if r.size < capacity {
		r.buf[(r.start+r.size)%capacity] = ev
		r.size++
		return
	}
	// Full: overwrite the oldest entry.
	r.buf[r.start] = ev
	r.start = (r.start + 1) % capacity
}

// snapshot returns retained events oldest-first.
func (r *ring) snapshot() []event.Event {
	out := make([]event.Event, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
