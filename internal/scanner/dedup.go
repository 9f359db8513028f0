package scanner

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultDedupWindow is how long a repeated decode of the same value is
// suppressed. It covers a continuously running camera feed pointed at one
// physical code.
const DefaultDedupWindow = 3 * time.Second

const lastAcceptedKey = "last_accepted"

// DedupFilter suppresses re-reads of the last-accepted barcode within the
// dedup window. Only the last value counts: scanning A, B, then A again
// inside the window yields three events.
type DedupFilter struct {
	window time.Duration
	last   *cache.Cache
}

// NewDedupFilter creates a filter with the given window; a non-positive
// window selects the default.
func NewDedupFilter(window time.Duration) *DedupFilter {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupFilter{
		window: window,
		last:   cache.New(window, time.Minute),
	}
}

// Accept reports whether barcode should produce a ScanEvent and, if so,
// records it as the new last-accepted value with its own expiry.
func (f *DedupFilter) Accept(barcode string) bool {
	if v, found := f.last.Get(lastAcceptedKey); found && v.(string) == barcode {
		return false
	}
	f.last.Set(lastAcceptedKey, barcode, f.window)
	return true
}
