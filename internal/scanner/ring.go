package scanner

import "sync"

// DefaultRingCapacity bounds the in-memory scan history.
const DefaultRingCapacity = 50

// Ring is a bounded buffer of ScanEvents. When full, the oldest entry is
// silently evicted.
type Ring struct {
	mu       sync.Mutex
	capacity int
	events   []ScanEvent
}

// NewRing creates a ring of the given capacity; non-positive selects the
// default.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{capacity: capacity}
}

// Append adds an event, evicting the oldest when at capacity.
func (r *Ring) Append(e ScanEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == r.capacity {
		copy(r.events, r.events[1:])
		r.events[len(r.events)-1] = e
		return
	}
	r.events = append(r.events, e)
}

// CountDuplicate increments the newest event's duplicate counter. The dedup
// window only ever suppresses re-reads of the last accepted barcode, so the
// newest entry is the one being re-read.
func (r *Ring) CountDuplicate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return
	}
	r.events[len(r.events)-1].DuplicateCount++
}

// Events returns a snapshot, oldest first.
func (r *Ring) Events() []ScanEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ScanEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
