package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"pulse-checkin-backend/internal/model"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender implementation using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// CheckInJob is one check-in to announce to a resource's push subscribers.
type CheckInJob struct {
	ResourceID string
	Barcode    string
	IsWalkIn   bool
}

// WorkerPool fans check-in notifications out to push subscribers. Dispatch
// is fire-and-forget; a slow push provider never backs up the scan path.
type WorkerPool struct {
	size    int
	jobs    chan CheckInJob
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan CheckInJob, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender replaces the sender, for tests.
func (wp *WorkerPool) SetSender(s Sender) { wp.sender = s }

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("notification worker %d started", id)
	for {
		select {
		case job := <-wp.jobs:
			wp.notifyCheckIn(ctx, job)
		case <-ctx.Done():
			log.Printf("notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a job, dropping it if the pool is saturated.
func (wp *WorkerPool) Dispatch(job CheckInJob) {
	select {
	case wp.jobs <- job:
	default:
		log.Printf("notification pool saturated, dropping job for resource %s", job.ResourceID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan CheckInJob { return wp.jobs }

// notifyCheckIn fetches the resource's subscriptions and pushes to each.
func (wp *WorkerPool) notifyCheckIn(ctx context.Context, job CheckInJob) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Where("resource_id = ?", job.ResourceID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for resource %s: %v", job.ResourceID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	title := "New check-in"
	if job.IsWalkIn {
		title = "New walk-in"
	}
	payload, err := json.Marshal(map[string]string{
		"title": title,
		"body":  fmt.Sprintf("%s checked in", job.Barcode),
	})
	if err != nil {
		log.Printf("Error marshaling notification payload: %v", err)
		return
	}

	log.Printf("Sending %d notifications for resource %s", len(subscriptions), job.ResourceID)
	for _, sub := range subscriptions {
		wp.send(ctx, sub, payload)
	}
}

// send pushes one notification, deleting the subscription when the provider
// reports it expired.
func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
