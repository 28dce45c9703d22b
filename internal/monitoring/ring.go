package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RingCapacity is the number of log entries retained for late subscribers.
const RingCapacity = 100

// Entry is a single human-facing log line with its arrival time.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// LogRing is a bounded log buffer with fan-out to subscribers. The runtime
// mirrors operator-relevant lines into the ring; hub clients and tests
// subscribe for live tailing. Slow subscribers miss entries rather than
// blocking the publisher.
type LogRing struct {
	mu          sync.Mutex
	entries     []Entry
	next        int
	full        bool
	subscribers map[string]chan Entry
}

// NewLogRing creates an empty ring with RingCapacity slots.
func NewLogRing() *LogRing {
	return &LogRing{
		entries:     make([]Entry, RingCapacity),
		subscribers: make(map[string]chan Entry),
	}
}

// Publish appends a formatted line to the ring and fans it out.
func (r *LogRing) Publish(format string, v ...interface{}) {
	e := Entry{Time: time.Now(), Message: fmt.Sprintf(format, v...)}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % RingCapacity
	if r.next == 0 {
		r.full = true
	}
	for _, ch := range r.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a token and a channel carrying entries published after
// this call. The channel is buffered to one ring's worth of entries.
func (r *LogRing) Subscribe() (string, <-chan Entry) {
	id := uuid.NewString()
	ch := make(chan Entry, RingCapacity)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *LogRing) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subscribers[id]; ok {
		close(ch)
		delete(r.subscribers, id)
	}
}

// Snapshot returns the retained entries oldest-first.
func (r *LogRing) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]Entry, 0, RingCapacity)
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
