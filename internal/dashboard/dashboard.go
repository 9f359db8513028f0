package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulse-checkin-backend/internal/model"
	"pulse-checkin-backend/internal/pairing"
	"pulse-checkin-backend/internal/realtime"
)

// ScanResultAckPayload is the advisory acknowledgment a dashboard sends back
// on the pairing channel after receiving a scan broadcast.
type ScanResultAckPayload struct {
	Barcode    string    `json:"barcode"`
	ReceivedAt time.Time `json:"receivedAt"`
	DeviceType string    `json:"deviceType"`
}

// ConfigSource resolves a resource's pairing configuration.
type ConfigSource interface {
	GetPairingConfig(ctx context.Context, resourceID string) (*model.PairingConfig, error)
}

// Config carries a dashboard view's collaborators and knobs.
type Config struct {
	Transport realtime.Transport
	Store     interface {
		ConfigSource
		StatsSource
	}
	UserAgent    string
	PollInterval time.Duration
	PopupTTL     time.Duration
	ShowPopups   bool
	OnBadge      func(string)
	OnPopup      func(Popup)
	OnToast      func(string)
}

// Dashboard is the viewer-side composite: the pairing channel (with its own
// presence), the per-resource scanners presence channel feeding the
// registry, and the change-feed reconciler with its polling fallback.
type Dashboard struct {
	resourceID  string
	pairingCode string
	cfg         Config
	reconciler  *Reconciler
	registry    *Registry

	mu          sync.Mutex
	started     bool
	pairSub     realtime.Subscription
	scannersSub realtime.Subscription
}

// New builds a dashboard for a resource, generating the pairing code the
// view displays for scanners to enter.
func New(resourceID string, cfg Config) *Dashboard {
	return &Dashboard{
		resourceID:  resourceID,
		pairingCode: NewPairingCode(),
		cfg:         cfg,
		registry:    NewRegistry(cfg.OnToast),
		reconciler: NewReconciler(ReconcilerConfig{
			Transport:    cfg.Transport,
			Stats:        cfg.Store,
			ResourceID:   resourceID,
			PollInterval: cfg.PollInterval,
			PopupTTL:     cfg.PopupTTL,
			ShowPopups:   cfg.ShowPopups,
			OnBadge:      cfg.OnBadge,
			OnPopup:      cfg.OnPopup,
		}),
	}
}

// NewPairingCode generates the short shared secret embedded in the pairing
// channel name.
func NewPairingCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

// PairingCode returns the code this dashboard displays.
func (d *Dashboard) PairingCode() string { return d.pairingCode }

// Registry returns the active scanner registry.
func (d *Dashboard) Registry() *Registry { return d.registry }

// Reconciler returns the aggregate reconciler.
func (d *Dashboard) Reconciler() *Reconciler { return d.reconciler }

// Start opens every subscription the view owns. A resource with no pairing
// configuration fails terminally with store.ErrNotConfigured; transport
// failures degrade instead of failing.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	if _, err := d.cfg.Store.GetPairingConfig(ctx, d.resourceID); err != nil {
		d.mu.Lock()
		d.started = false
		d.mu.Unlock()
		return fmt.Errorf("dashboard: %w", err)
	}

	pairSub, err := d.cfg.Transport.Subscribe(
		realtime.PairingChannel(d.resourceID, d.pairingCode),
		realtime.SubscribeOptions{OnMessage: d.handlePairingMessage},
	)
	if err != nil {
		log.Printf("dashboard: pairing channel unavailable: %v", err)
		d.badge("pairing unavailable")
	} else {
		if err := pairSub.Track(pairing.DevicePresence{
			DeviceType:  pairing.DeviceTypeDashboard,
			UserAgent:   d.cfg.UserAgent,
			PairingCode: d.pairingCode,
			Timestamp:   time.Now().UnixMilli(),
		}); err != nil {
			log.Printf("dashboard: pairing presence track failed: %v", err)
		}
		d.mu.Lock()
		d.pairSub = pairSub
		d.mu.Unlock()
	}

	scannersSub, err := d.cfg.Transport.Subscribe(
		realtime.ScannersChannel(d.resourceID),
		realtime.SubscribeOptions{OnPresence: d.registry.HandlePresence},
	)
	if err != nil {
		log.Printf("dashboard: scanners channel unavailable: %v", err)
		d.badge("scanner registry unavailable")
	} else {
		d.mu.Lock()
		d.scannersSub = scannersSub
		d.mu.Unlock()
	}

	return d.reconciler.Start(ctx)
}

// Stop releases everything the view acquired: pairing channel, scanners
// channel, change feed, poller. Idempotent.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	pairSub := d.pairSub
	scannersSub := d.scannersSub
	d.pairSub = nil
	d.scannersSub = nil
	d.mu.Unlock()

	if pairSub != nil {
		pairSub.Close()
	}
	if scannersSub != nil {
		scannersSub.Close()
	}
	d.reconciler.Stop()
}

// handlePairingMessage treats a direct scan broadcast exactly like a change
// notification: a trigger for a fresh read, acknowledged advisorily.
func (d *Dashboard) handlePairingMessage(msg realtime.Message) {
	switch msg.Type {
	case realtime.MessageBarcodeScanned:
		d.reconciler.Trigger()
		d.ack(msg)
	case realtime.MessageScanResultAck, realtime.MessageNewScanResult,
		realtime.MessageCheckInInserted, realtime.MessageSessionUpdated:
		// Not expected on the pairing channel.
	}
}

func (d *Dashboard) ack(scanned realtime.Message) {
	d.mu.Lock()
	sub := d.pairSub
	d.mu.Unlock()
	if sub == nil {
		return
	}
	var payload struct {
		Barcode string `json:"barcode"`
	}
	// Best effort: an unparsable barcode still gets an ack.
	_ = json.Unmarshal(scanned.Payload, &payload)
	msg, err := realtime.NewMessage(realtime.MessageScanResultAck, ScanResultAckPayload{
		Barcode:    payload.Barcode,
		ReceivedAt: time.Now().UTC(),
		DeviceType: pairing.DeviceTypeDashboard,
	})
	if err != nil {
		return
	}
	if err := sub.Publish(msg); err != nil {
		log.Printf("dashboard: ack publish failed: %v", err)
	}
}

func (d *Dashboard) badge(msg string) {
	if d.cfg.OnBadge != nil {
		d.cfg.OnBadge(msg)
	}
}
