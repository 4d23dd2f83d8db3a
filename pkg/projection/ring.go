package projection

import "github.com/runloom/runloom/pkg/models"

// eventRing is a fixed-capacity ring buffer of raw events, oldest dropped
// first. Diagnostics only — never authoritative state.
type eventRing struct {
	buf   []models.Event
	head  int
	count int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{buf: make([]models.Event, capacity)}
}

func (r *eventRing) push(evt models.Event) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[(r.head+r.count)%len(r.buf)] = evt
	if r.count < len(r.buf) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// snapshot returns the buffered events oldest-first.
func (r *eventRing) snapshot() []models.Event {
	out := make([]models.Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

func (r *eventRing) len() int { return r.count }
