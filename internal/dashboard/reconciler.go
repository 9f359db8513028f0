package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulse-checkin-backend/internal/model"
	"pulse-checkin-backend/internal/realtime"
	"pulse-checkin-backend/internal/store"
)

// DefaultPopupTTL is how long a check-in popup stays up before
// auto-dismissing.
const DefaultPopupTTL = 5 * time.Second

// StatsSource is the persistence collaborator the reconciler re-queries.
// Aggregates always come from here, never from notification payloads.
type StatsSource interface {
	AggregateStats(ctx context.Context, resourceID string) (store.DashboardStats, error)
	ListActiveSessions(ctx context.Context, resourceID string) ([]model.ScannerSession, error)
}

// Popup is the transient check-in notification. It is built directly from
// the change payload: purely cosmetic and time-boxed, so slightly stale or
// partial data is tolerable here.
type Popup struct {
	CheckIn model.CheckIn `json:"checkIn"`
	ShownAt time.Time     `json:"shownAt"`
}

// ReconcilerConfig carries the reconciler's collaborators and knobs.
type ReconcilerConfig struct {
	Transport    realtime.Transport
	Stats        StatsSource
	ResourceID   string
	PollInterval time.Duration
	PopupTTL     time.Duration
	ShowPopups   bool
	// OnBadge surfaces subscription failures as a non-blocking status
	// badge; the view stays interactive on polling.
	OnBadge func(string)
	OnPopup func(Popup)
}

// Reconciler subscribes to the resource's change feed and treats every
// notification as a trigger for a fresh authoritative read. Concurrent
// notifications coalesce into a single re-fetch.
type Reconciler struct {
	cfg      ReconcilerConfig
	popupTTL time.Duration
	epoch    string

	trigger chan struct{}
	stop    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	started    bool
	sub        realtime.Subscription
	poller     *Poller
	stats      store.DashboardStats
	sessions   []model.ScannerSession
	popup      *Popup
	popupTimer *time.Timer
	fetches    int64
}

// NewReconciler builds a reconciler; Start attaches it to the change feed.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	ttl := cfg.PopupTTL
	if ttl <= 0 {
		ttl = DefaultPopupTTL
	}
	r := &Reconciler{
		cfg:      cfg,
		popupTTL: ttl,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	r.poller = NewPoller(cfg.PollInterval, func(ctx context.Context) { r.refetch(ctx) })
	return r
}

// Epoch returns the change-feed epoch token of the current Start cycle.
func (r *Reconciler) Epoch() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// Start subscribes to the change feed under a fresh epoch token and begins
// reconciling. A subscription failure is recoverable: the poller takes over
// and the badge reports the degradation.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.epoch = uuid.NewString()
	channel := realtime.ChangeFeedChannel(r.cfg.ResourceID, r.epoch)
	// The view outlives the request that started it, so the reconcile loop
	// runs on a context the view owns and cancels in Stop, never the
	// caller's.
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(runCtx)

	sub, err := r.cfg.Transport.Subscribe(channel, realtime.SubscribeOptions{
		OnMessage: r.handleChange,
		OnStatus:  r.handleStatus,
	})
	if err != nil {
		log.Printf("dashboard: change feed subscribe failed: %v", err)
		r.badge("live updates unavailable, polling")
		r.poller.Start()
	} else {
		r.mu.Lock()
		r.sub = sub
		r.mu.Unlock()
	}

	// Initial authoritative load.
	r.refetch(ctx)
	return nil
}

// Stop tears the reconciler down: change-feed unsubscribe, poller release,
// popup timer cancellation. Idempotent.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	sub := r.sub
	r.sub = nil
	cancel := r.cancel
	r.cancel = nil
	if r.popupTimer != nil {
		r.popupTimer.Stop()
		r.popupTimer = nil
	}
	r.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	r.poller.Stop()
	if cancel != nil {
		cancel()
	}
	close(r.stop)
	r.wg.Wait()
}

// Trigger requests a reconcile. Multiple triggers before the loop runs
// collapse into one re-fetch, which is also what makes reconciliation
// idempotent under duplicate notifications.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stats returns the last fetched aggregate.
func (r *Reconciler) Stats() store.DashboardStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Sessions returns the last fetched scanner-session list.
func (r *Reconciler) Sessions() []model.ScannerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ScannerSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// CurrentPopup returns the visible popup, if any.
func (r *Reconciler) CurrentPopup() *Popup {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.popup == nil {
		return nil
	}
	p := *r.popup
	return &p
}

// Fetches returns how many re-fetches have completed.
func (r *Reconciler) Fetches() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

// Polling reports whether the fallback poller is active.
func (r *Reconciler) Polling() bool { return r.poller.Running() }

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-r.trigger:
			r.refetch(ctx)
		}
	}
}

// handleChange never trusts the payload as aggregate state: any recognized
// notification triggers a fresh read. The one exception is the cosmetic
// popup, built from the payload directly.
func (r *Reconciler) handleChange(msg realtime.Message) {
	switch msg.Type {
	case realtime.MessageCheckInInserted:
		r.showPopup(msg.Payload)
		r.Trigger()
	case realtime.MessageSessionUpdated:
		r.Trigger()
	case realtime.MessageBarcodeScanned, realtime.MessageScanResultAck, realtime.MessageNewScanResult:
		// Not change-feed kinds; ignore on this channel.
	}
}

func (r *Reconciler) handleStatus(status realtime.Status, err error) {
	switch status {
	case realtime.StatusSubscribed:
		r.poller.Stop()
	case realtime.StatusError:
		log.Printf("dashboard: change feed error: %v", err)
		r.badge("live updates degraded, polling")
		r.poller.Start()
	case realtime.StatusClosed:
		// Normal teardown; the owner releases the poller.
	}
}

func (r *Reconciler) refetch(ctx context.Context) {
	stats, err := r.cfg.Stats.AggregateStats(ctx, r.cfg.ResourceID)
	if err != nil {
		log.Printf("dashboard: stats re-fetch failed: %v", err)
		return
	}
	sessions, err := r.cfg.Stats.ListActiveSessions(ctx, r.cfg.ResourceID)
	if err != nil {
		log.Printf("dashboard: session re-fetch failed: %v", err)
		return
	}
	r.mu.Lock()
	r.stats = stats
	r.sessions = sessions
	r.fetches++
	r.mu.Unlock()
}

func (r *Reconciler) showPopup(payload json.RawMessage) {
	if !r.cfg.ShowPopups {
		return
	}
	var checkIn model.CheckIn
	if err := json.Unmarshal(payload, &checkIn); err != nil {
		log.Printf("dashboard: malformed check-in payload: %v", err)
		return
	}
	popup := Popup{CheckIn: checkIn, ShownAt: time.Now().UTC()}

	r.mu.Lock()
	if r.popupTimer != nil {
		r.popupTimer.Stop()
	}
	r.popup = &popup
	r.popupTimer = time.AfterFunc(r.popupTTL, r.dismissPopup)
	r.mu.Unlock()

	if r.cfg.OnPopup != nil {
		r.cfg.OnPopup(popup)
	}
}

func (r *Reconciler) dismissPopup() {
	r.mu.Lock()
	r.popup = nil
	r.popupTimer = nil
	r.mu.Unlock()
}

func (r *Reconciler) badge(msg string) {
	if r.cfg.OnBadge != nil {
		r.cfg.OnBadge(msg)
	}
}
