package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestScanLog(t *testing.T, cap int) *ScanLog {
	t.Helper()
	l, err := OpenScanLog(filepath.Join(t.TempDir(), "scan.db"), cap)
	require.NoError(t, err)
	return l
}

func TestScanLogRoundTrip(t *testing.T) {
	l := openTestScanLog(t, 10)
	ctx := context.Background()

	event := ScanEvent{
		ID:        "ev-1",
		Barcode:   "jane@x.com",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Success:   true,
	}
	require.NoError(t, l.Append(ctx, "T1", "email", event))

	events, err := l.Entries(ctx, "T1", "email")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0].ID)
	assert.Equal(t, "jane@x.com", events[0].Barcode)
	assert.True(t, events[0].Success)
}

func TestScanLogTrimsToCapPerScope(t *testing.T) {
	l := openTestScanLog(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := ScanEvent{ID: fmt.Sprintf("ev-%d", i), Barcode: fmt.Sprintf("code-%d", i), Timestamp: time.Now().UTC()}
		require.NoError(t, l.Append(ctx, "T1", "email", e))
	}
	// A different scope is not affected by T1's trimming.
	require.NoError(t, l.Append(ctx, "T2", "email", ScanEvent{ID: "other", Timestamp: time.Now().UTC()}))

	events, err := l.Entries(ctx, "T1", "email")
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Newest first; the two oldest were trimmed.
	assert.Equal(t, "ev-4", events[0].ID)
	assert.Equal(t, "ev-2", events[2].ID)

	other, err := l.Entries(ctx, "T2", "email")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestScanLogSkipsCorruptEntries(t *testing.T) {
	l := openTestScanLog(t, 10)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, "T1", "email", ScanEvent{ID: "good", Timestamp: time.Now().UTC()}))
	require.NoError(t, l.db.Create(&ScanLogEntry{
		ResourceID: "T1",
		ColumnName: "email",
		EventID:    "bad",
		Barcode:    "x",
		Payload:    []byte("{not json"),
	}).Error)

	events, err := l.Entries(ctx, "T1", "email")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "good", events[0].ID)
}

func TestScanLogEmptyScope(t *testing.T) {
	l := openTestScanLog(t, 10)
	events, err := l.Entries(context.Background(), "T1", "email")
	require.NoError(t, err)
	assert.Empty(t, events)
}
