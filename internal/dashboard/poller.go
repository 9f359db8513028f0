package dashboard

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultPollInterval is the fallback re-fetch cadence when the change feed
// is down.
const DefaultPollInterval = 3 * time.Second

// Poller is the polling fallback scheduler: a scoped resource acquired when
// the change-feed subscription fails and released when it recovers or the
// owning view is torn down. Start while running is a no-op, so pollers never
// stack.
type Poller struct {
	interval time.Duration
	refetch  func(context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPoller creates a poller calling refetch every interval; non-positive
// interval selects the default.
func NewPoller(interval time.Duration, refetch func(context.Context)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{interval: interval, refetch: refetch}
}

// Start begins polling: one immediate re-fetch, then one per interval.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	log.Println("dashboard: change feed down, polling fallback active")
	go p.run(ctx)
}

// Stop releases the poller. Idempotent; safe on any exit path.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		log.Println("dashboard: polling fallback released")
	}
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context) {
	p.refetch(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refetch(ctx)
		}
	}
}
