package scanner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldestBeyondCapacity(t *testing.T) {
	const capacity = 5
	r := NewRing(capacity)

	for i := 0; i < capacity+3; i++ {
		r.Append(ScanEvent{Barcode: fmt.Sprintf("code-%d", i)})
	}

	events := r.Events()
	require.Len(t, events, capacity)
	assert.Equal(t, "code-3", events[0].Barcode)
	assert.Equal(t, "code-7", events[len(events)-1].Barcode)
}

func TestRingPreservesInsertionOrder(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 4; i++ {
		r.Append(ScanEvent{Barcode: fmt.Sprintf("code-%d", i)})
	}

	events := r.Events()
	require.Len(t, events, 4)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("code-%d", i), e.Barcode)
	}
	assert.Equal(t, 4, r.Len())
}

func TestRingSnapshotIsACopy(t *testing.T) {
	r := NewRing(3)
	r.Append(ScanEvent{Barcode: "a"})

	events := r.Events()
	events[0].Barcode = "mutated"

	assert.Equal(t, "a", r.Events()[0].Barcode)
}

func TestRingCountDuplicateBumpsNewest(t *testing.T) {
	r := NewRing(3)
	r.CountDuplicate() // empty ring is a no-op

	r.Append(ScanEvent{Barcode: "a"})
	r.Append(ScanEvent{Barcode: "b"})
	r.CountDuplicate()
	r.CountDuplicate()

	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].DuplicateCount)
	assert.Equal(t, 2, events[1].DuplicateCount)
}

func TestRingDefaultCapacity(t *testing.T) {
	r := NewRing(-1)
	for i := 0; i < DefaultRingCapacity+1; i++ {
		r.Append(ScanEvent{})
	}
	assert.Equal(t, DefaultRingCapacity, r.Len())
}
