// Package ringbuf provides a fixed-size ring of recent rebalance cycle
// events with monotonic sequence numbers. The API gateway pushes every
// event it relays and replays the tail to WebSocket clients that
// connect mid-cycle, so late observers still see how the cycle got to
// its current stage.
package ringbuf

import (
	"sync"

	"directindex/internal/model"
)

// Entry is one buffered event with its assigned sequence number.
type Entry struct {
	Seq   int64            `json:"seq"`
	Event model.CycleEvent `json:"event"`
}

// Ring is a fixed-capacity circular buffer of cycle events. Pushes
// overwrite the oldest entry once full. Safe for concurrent use.
type Ring struct {
	mu   sync.RWMutex
	buf  []Entry
	pos  int // next write position
	full bool
	seq  int64 // last assigned sequence number
}

// New creates a ring with the given capacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{buf: make([]Entry, capacity)}
}

// Push appends an event and returns its sequence number. Sequence
// numbers start at 1 and never repeat for one Ring.
func (r *Ring) Push(ev model.CycleEvent) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.buf[r.pos] = Entry{Seq: r.seq, Event: ev}
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 && !r.full {
		r.full = true
	}
	return r.seq
}

// Since returns all buffered entries with sequence numbers greater than
// seq, oldest first. Pass 0 for everything still buffered.
func (r *Ring) Since(seq int64) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.length()
	var out []Entry
	for i := 0; i < count; i++ {
		e := r.buf[r.index(i)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns up to n of the newest entries, oldest first.
func (r *Ring) Recent(n int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.length()
	if n > count {
		n = count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	for i := count - n; i < count; i++ {
		out = append(out, r.buf[r.index(i)])
	}
	return out
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.length()
}

// LastSeq returns the most recently assigned sequence number, zero
// before the first push.
func (r *Ring) LastSeq() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

func (r *Ring) length() int {
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// index converts a logical index (0 = oldest) to a buffer position.
func (r *Ring) index(logical int) int {
	if r.full {
		return (r.pos + logical) % len(r.buf)
	}
	return logical
}
