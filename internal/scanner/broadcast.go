package scanner

import (
	"context"
	"log"
	"sync"
	"time"

	"pulse-checkin-backend/internal/pairing"
	"pulse-checkin-backend/internal/realtime"
)

// DefaultResultsGrace is how long the ephemeral results channel is held open
// after publishing before it is released.
const DefaultResultsGrace = time.Second

// Broadcaster fans an accepted ScanEvent out: ring buffer, durable log,
// paired-channel broadcast, and a decoupled best-effort publish on the
// ephemeral results channel. Delivery is not guaranteed anywhere; the
// durable log is the fallback source of truth.
type Broadcaster struct {
	transport    realtime.Transport
	session      *pairing.Session
	ring         *Ring
	scanLog      *ScanLog
	resourceID   string
	columnName   string
	resultsGrace time.Duration
	// onToast surfaces persistence failures as a transient toast; it never
	// blocks subsequent scans.
	onToast func(string)
}

// NewBroadcaster builds a broadcaster. scanLog and onToast may be nil.
func NewBroadcaster(transport realtime.Transport, session *pairing.Session, ring *Ring, scanLog *ScanLog, resultsGrace time.Duration, onToast func(string)) *Broadcaster {
	if resultsGrace <= 0 {
		resultsGrace = DefaultResultsGrace
	}
	params := session.Params()
	return &Broadcaster{
		transport:    transport,
		session:      session,
		ring:         ring,
		scanLog:      scanLog,
		resourceID:   params.ResourceID,
		columnName:   params.ColumnName,
		resultsGrace: resultsGrace,
		onToast:      onToast,
	}
}

// Broadcast records and publishes one event. All failures degrade to a toast
// and a log line; none of them block the next scan.
func (b *Broadcaster) Broadcast(ctx context.Context, e ScanEvent) {
	b.ring.Append(e)

	if b.scanLog != nil {
		if err := b.scanLog.Append(ctx, b.resourceID, b.columnName, e); err != nil {
			log.Printf("scanner: durable log write failed: %v", err)
			b.toast("scan saved in memory only")
		}
	}

	b.publishPaired(e)
	b.publishResults(e)
}

// publishPaired broadcasts on the pairing channel when a viewer is paired.
func (b *Broadcaster) publishPaired(e ScanEvent) {
	state, standalone := b.session.State()
	if state != pairing.StateConnected || standalone {
		return
	}
	msg, err := realtime.NewMessage(realtime.MessageBarcodeScanned, BarcodeScannedPayload{
		Barcode:    e.Barcode,
		FoundRows:  e.MatchedRecords,
		Timestamp:  e.Timestamp,
		DeviceType: pairing.DeviceTypeMobile,
	})
	if err != nil {
		log.Printf("scanner: marshal broadcast: %v", err)
		return
	}
	if err := b.session.Publish(msg); err != nil {
		log.Printf("scanner: paired broadcast failed: %v", err)
		b.toast("paired viewer may have missed a scan")
	}
}

// publishResults opens the ephemeral results channel, publishes once
// subscribed, and releases the channel after a fixed grace period. Any
// separately opened results surface can catch the event without holding a
// subscription tied to the scanner's lifecycle.
func (b *Broadcaster) publishResults(e ScanEvent) {
	msg, err := realtime.NewMessage(realtime.MessageNewScanResult, NewScanResultPayload{
		ScanEvent:  e,
		Column:     b.columnName,
		ResourceID: b.resourceID,
	})
	if err != nil {
		log.Printf("scanner: marshal scan result: %v", err)
		return
	}

	// The subscribed status may be delivered before Subscribe returns the
	// handle, so the callback waits for it on a one-slot channel.
	ready := make(chan realtime.Subscription, 1)
	var once sync.Once
	sub, err := b.transport.Subscribe(realtime.ResultsChannel(b.resourceID, b.columnName), realtime.SubscribeOptions{
		OnStatus: func(status realtime.Status, _ error) {
			if status != realtime.StatusSubscribed {
				return
			}
			once.Do(func() {
				sub := <-ready
				if err := sub.Publish(msg); err != nil {
					log.Printf("scanner: results publish failed: %v", err)
				}
				time.AfterFunc(b.resultsGrace, sub.Close)
			})
		},
	})
	if err != nil {
		log.Printf("scanner: results channel subscribe failed: %v", err)
		b.toast("results feed unavailable")
		return
	}
	ready <- sub
}

func (b *Broadcaster) toast(msg string) {
	if b.onToast != nil {
		b.onToast(msg)
	}
}
