package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"picking-sync-backend/internal/model"
)

// AlertSender defines the interface for sending a web push alert.
type AlertSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of AlertSender using the webpush
// library.
type WebPushSender struct{}

// Send sends an alert using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers delivering dead-letter alerts to
// supervisor push subscriptions.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  AlertSender
}

// NewWorkerPool creates a new alert worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size), // Buffered channel
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// SetSender replaces the push sender. Tests install a mock here.
func (wp *WorkerPool) SetSender(s AlertSender) {
	wp.sender = s
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Alert worker %d started", id)
	for {
		select {
		case letterID := <-wp.jobs:
			log.Printf("Alert worker %d processing dead letter %d", id, letterID)
			wp.sendAlertsForLetter(ctx, letterID)
		case <-ctx.Done():
			log.Printf("Alert worker %d shutting down", id)
			return
		}
	}
}

// Dispatch sends a dead-letter alert job to the worker pool.
func (wp *WorkerPool) Dispatch(letterID int64) {
	wp.jobs <- letterID
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan int64 {
	return wp.jobs
}

// sendAlertsForLetter fetches supervisor subscriptions and pushes the
// failure summary to each of them.
func (wp *WorkerPool) sendAlertsForLetter(ctx context.Context, letterID int64) {
	var letter model.DeadLetter
	if err := wp.db.WithContext(ctx).First(&letter, letterID).Error; err != nil {
		log.Printf("Error fetching dead letter %d: %v", letterID, err)
		return
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching subscriptions for dead letter %d: %v", letterID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d alerts for dead letter %d", len(subscriptions), letterID)

	message := fmt.Sprintf("Operation %s on order %s failed permanently after %d attempts: %s",
		letter.OpID, letter.OrderID, letter.Attempts, letter.Cause)
	for _, sub := range subscriptions {
		wp.sendAlert(ctx, sub, []byte(message))
	}
}

// sendAlert sends a single web push alert.
func (wp *WorkerPool) sendAlert(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending alert to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
