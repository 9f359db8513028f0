package scanner

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulse-checkin-backend/internal/model"
	"pulse-checkin-backend/internal/pairing"
	"pulse-checkin-backend/internal/realtime"
)

// CheckInRecorder is the persisted check-in collaborator.
type CheckInRecorder interface {
	CreateCheckIn(ctx context.Context, checkIn *model.CheckIn) error
}

// SessionRecorder is the scanner-session persistence collaborator.
type SessionRecorder interface {
	UpsertScannerSession(ctx context.Context, session *model.ScannerSession) error
}

// ClientConfig carries the collaborators and knobs of a scanning client.
type ClientConfig struct {
	Transport realtime.Transport
	Rows      RowLister
	CheckIns  CheckInRecorder
	Sessions  SessionRecorder
	ScanLog   *ScanLog
	Feedback  Feedback

	ScannerName  string
	ScannerEmail string
	UserAgent    string

	DedupWindow    time.Duration
	ConnectTimeout time.Duration
	ResultsGrace   time.Duration
	RingCapacity   int

	OnState func(pairing.State, bool)
	OnToast func(string)
}

// Client is the scanning-client protocol engine: pairing session, capture
// pipeline, broadcaster, and the presence heartbeat on the per-resource
// scanners channel. It is independent of any rendering surface.
type Client struct {
	deviceID    string
	params      pairing.Params
	cfg         ClientConfig
	session     *pairing.Session
	capture     *Capture
	ring        *Ring
	broadcaster *Broadcaster

	mu          sync.Mutex
	started     bool
	totalScans  int
	joinedAt    time.Time
	scannersSub realtime.Subscription
}

// NewClient validates the pairing parameters and assembles the engine.
// Missing parameters fail with pairing.ErrInvalidParameters before anything
// connects.
func NewClient(params pairing.Params, cfg ClientConfig) (*Client, error) {
	session, err := pairing.NewSession(params, pairing.Config{
		Transport:      cfg.Transport,
		UserAgent:      cfg.UserAgent,
		ConnectTimeout: cfg.ConnectTimeout,
		OnState:        cfg.OnState,
		OnSubscribeError: func(err error) {
			log.Printf("scanner: pairing subscription degraded: %v", err)
		},
	})
	if err != nil {
		return nil, err
	}

	ring := NewRing(cfg.RingCapacity)
	c := &Client{
		deviceID: uuid.NewString(),
		params:   params,
		cfg:      cfg,
		session:  session,
		ring:     ring,
		capture: NewCapture(params.ResourceID, params.ColumnName,
			cfg.Rows, NewDedupFilter(cfg.DedupWindow), cfg.Feedback),
	}
	c.broadcaster = NewBroadcaster(cfg.Transport, session, ring, cfg.ScanLog, cfg.ResultsGrace, cfg.OnToast)
	return c, nil
}

// DeviceID returns the client's generated device identifier.
func (c *Client) DeviceID() string { return c.deviceID }

// Session exposes the pairing session state.
func (c *Client) Session() *pairing.Session { return c.session }

// Events returns the in-memory scan history, oldest first.
func (c *Client) Events() []ScanEvent { return c.ring.Events() }

// Start establishes the pairing session, joins the scanners presence channel
// and records the persisted session. A no-op while running; after a failed
// establishment it may be called again to retry.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.joinedAt = time.Now().UTC()
	c.mu.Unlock()

	if err := c.session.Establish(); err != nil {
		// Leave the engine retryable: a later Start runs the full
		// establishment again.
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return err
	}

	sub, err := c.cfg.Transport.Subscribe(realtime.ScannersChannel(c.params.ResourceID), realtime.SubscribeOptions{})
	if err != nil {
		// The registry view degrades; scanning itself keeps working.
		log.Printf("scanner: scanners channel unavailable: %v", err)
	} else {
		c.mu.Lock()
		c.scannersSub = sub
		c.mu.Unlock()
		if err := sub.Track(c.presence()); err != nil {
			log.Printf("scanner: scanners presence track failed: %v", err)
		}
	}

	c.recordSession(ctx, true)
	return nil
}

// HandleDecode feeds one raw decode result through the pipeline. It returns
// the created event and true, or nil and false when suppressed.
func (c *Client) HandleDecode(ctx context.Context, barcode string) (*ScanEvent, bool) {
	event, accepted := c.capture.HandleDecode(ctx, barcode)
	if !accepted {
		c.ring.CountDuplicate()
		return nil, false
	}

	c.mu.Lock()
	c.totalScans++
	c.mu.Unlock()

	c.broadcaster.Broadcast(ctx, *event)
	c.recordCheckIn(ctx, event)
	c.refreshPresence()
	c.recordSession(ctx, true)
	return event, true
}

// Stop releases every owned resource: pairing subscription, scanners
// presence, and marks the persisted session inactive. Idempotent.
func (c *Client) Stop(ctx context.Context) {
	c.mu.Lock()
	sub := c.scannersSub
	c.scannersSub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	c.session.Close()
	c.recordSession(ctx, false)
}

func (c *Client) presence() model.ScannerPresence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.ScannerPresence{
		PairingCode:  c.params.PairingCode,
		ScannerName:  c.cfg.ScannerName,
		ScannerEmail: c.cfg.ScannerEmail,
		DeviceID:     c.deviceID,
		TotalScans:   c.totalScans,
		JoinedAt:     c.joinedAt,
	}
}

func (c *Client) refreshPresence() {
	c.mu.Lock()
	sub := c.scannersSub
	c.mu.Unlock()
	if sub == nil {
		return
	}
	if err := sub.Track(c.presence()); err != nil {
		log.Printf("scanner: presence refresh failed: %v", err)
	}
}

// recordCheckIn persists the scan as a check-in record and publishes the
// change notification the dashboard reconciles on. Failures degrade to a
// toast; they never block the next scan.
func (c *Client) recordCheckIn(ctx context.Context, event *ScanEvent) {
	if c.cfg.CheckIns == nil {
		return
	}
	checkIn := &model.CheckIn{
		ID:         event.ID,
		ResourceID: c.params.ResourceID,
		Barcode:    event.Barcode,
		ColumnName: c.params.ColumnName,
		IsWalkIn:   event.IsWalkIn,
		DeviceID:   c.deviceID,
		CreatedAt:  event.Timestamp,
	}
	if len(event.MatchedRecords) > 0 {
		rowID := event.MatchedRecords[0].ID
		checkIn.RowID = &rowID
	}
	if err := c.cfg.CheckIns.CreateCheckIn(ctx, checkIn); err != nil {
		log.Printf("scanner: check-in persist failed: %v", err)
		c.toast("check-in not saved")
		return
	}
	msg, err := realtime.NewMessage(realtime.MessageCheckInInserted, checkIn)
	if err != nil {
		log.Printf("scanner: marshal check-in notification: %v", err)
		return
	}
	if err := c.cfg.Transport.PublishChange(c.params.ResourceID, msg); err != nil {
		log.Printf("scanner: check-in notification failed: %v", err)
	}
}

// recordSession upserts the persisted scanner session and publishes the
// session change notification.
func (c *Client) recordSession(ctx context.Context, active bool) {
	if c.cfg.Sessions == nil {
		return
	}
	c.mu.Lock()
	total := c.totalScans
	c.mu.Unlock()
	session := &model.ScannerSession{
		ResourceID:   c.params.ResourceID,
		DeviceID:     c.deviceID,
		PairingCode:  c.params.PairingCode,
		ScannerName:  c.cfg.ScannerName,
		ScannerEmail: c.cfg.ScannerEmail,
		TotalScans:   total,
		Active:       active,
		LastSeenAt:   time.Now().UTC(),
	}
	if err := c.cfg.Sessions.UpsertScannerSession(ctx, session); err != nil {
		log.Printf("scanner: session persist failed: %v", err)
		c.toast("session state not saved")
		return
	}
	msg, err := realtime.NewMessage(realtime.MessageSessionUpdated, session)
	if err != nil {
		log.Printf("scanner: marshal session notification: %v", err)
		return
	}
	if err := c.cfg.Transport.PublishChange(c.params.ResourceID, msg); err != nil {
		log.Printf("scanner: session notification failed: %v", err)
	}
}

func (c *Client) toast(msg string) {
	if c.cfg.OnToast != nil {
		c.cfg.OnToast(msg)
	}
}
