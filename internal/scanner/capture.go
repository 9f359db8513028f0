package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"pulse-checkin-backend/internal/model"
)

// RowLister is the row-listing collaborator scans are matched against.
type RowLister interface {
	ListRows(ctx context.Context, resourceID string) ([]model.Row, error)
}

// Feedback triggers the device's scan feedback. Both calls are best-effort:
// failures are logged and swallowed, never propagated.
type Feedback interface {
	Pulse() error // short haptic pattern
	Tone() error  // confirmation tone
}

// Capture turns raw decode results into ScanEvents: dedup, feedback, lookup,
// event construction.
type Capture struct {
	resourceID string
	columnName string
	rows       RowLister
	dedup      *DedupFilter
	feedback   Feedback
}

// NewCapture builds a capture pipeline. feedback may be nil.
func NewCapture(resourceID, columnName string, rows RowLister, dedup *DedupFilter, feedback Feedback) *Capture {
	return &Capture{
		resourceID: resourceID,
		columnName: columnName,
		rows:       rows,
		dedup:      dedup,
		feedback:   feedback,
	}
}

// HandleDecode processes one raw decode result. It returns the created event
// and true, or nil and false when the decode was suppressed by the dedup
// window. A failed lookup still produces an (unsuccessful) event.
func (c *Capture) HandleDecode(ctx context.Context, barcode string) (*ScanEvent, bool) {
	if !c.dedup.Accept(barcode) {
		return nil, false
	}

	c.fireFeedback()

	matched, err := c.lookup(ctx, barcode)
	if err != nil {
		// Fail open toward visibility: the operator sees the failed
		// attempt instead of silence.
		log.Printf("scanner: lookup failed for barcode %q: %v", barcode, err)
		matched = nil
	}

	event := &ScanEvent{
		ID:             uuid.NewString(),
		Barcode:        barcode,
		Timestamp:      time.Now().UTC(),
		MatchedRecords: matched,
		Success:        len(matched) > 0,
		IsWalkIn:       len(matched) == 0,
	}
	return event, true
}

func (c *Capture) fireFeedback() {
	if c.feedback == nil {
		return
	}
	if err := c.feedback.Pulse(); err != nil {
		log.Printf("scanner: haptic feedback failed: %v", err)
	}
	if err := c.feedback.Tone(); err != nil {
		log.Printf("scanner: tone feedback failed: %v", err)
	}
}

// lookup scans the full row set for case-insensitive exact matches on the
// configured column. Intentionally a linear scan; no index.
func (c *Capture) lookup(ctx context.Context, barcode string) ([]model.Row, error) {
	rows, err := c.rows.ListRows(ctx, c.resourceID)
	if err != nil {
		return nil, err
	}
	needle := strings.TrimSpace(barcode)
	var matched []model.Row
	for _, row := range rows {
		if rowMatches(row, c.columnName, needle) {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

func rowMatches(row model.Row, column, needle string) bool {
	var fields map[string]any
	if err := json.Unmarshal(row.Data, &fields); err != nil {
		return false
	}
	val, ok := fields[column]
	if !ok || val == nil {
		return false
	}
	var s string
	switch v := val.(type) {
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}
	return strings.EqualFold(strings.TrimSpace(s), needle)
}
