// Package notify hands successful check-ins and registrations to the
// notification pipeline (QR issuance and email), which runs in the worker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"eventdesk/internal/attendance"
	"eventdesk/internal/queue"
)

// Kinds of notification.
const (
	KindCheckedIn  = "checked_in"
	KindRegistered = "registered"
)

// Notification is the queue payload.
type Notification struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	QRCode    string    `json:"qr_code,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// PublishObserver is told about every publish attempt.
type PublishObserver interface {
	ObservePublish(kind string, err error)
}

// Publisher turns engine results into queued notifications. Only results that
// performed a transition are published, so a badge scanned twice never sends
// two emails.
type Publisher struct {
	q   queue.Queue
	obs PublishObserver

	// Timeout bounds each publish independently of the caller's deadline.
	Timeout time.Duration
}

// DefaultPublishTimeout is the Publisher.Timeout set by NewPublisher.
const DefaultPublishTimeout = 500 * time.Millisecond

// NewPublisher creates a publisher. obs may be nil.
func NewPublisher(q queue.Queue, obs PublishObserver) *Publisher {
	return &Publisher{q: q, obs: obs, Timeout: DefaultPublishTimeout}
}

// CheckedIn publishes a notification for a NewlyCheckedIn result. Other
// outcomes are ignored and report false.
func (p *Publisher) CheckedIn(ctx context.Context, res attendance.CheckInResult) (bool, error) {
	if !res.Transitioned() {
		return false, nil
	}
	n := Notification{
		Kind:   KindCheckedIn,
		UserID: res.User.ID,
		Email:  res.User.Email,
		Name:   res.User.Name,
		QRCode: res.User.QRCode,
	}
	if res.User.CheckInTime != nil {
		n.At = *res.User.CheckInTime
	}
	return true, p.publish(ctx, n)
}

// Registered publishes a confirmation for a Registered result.
func (p *Publisher) Registered(ctx context.Context, res attendance.RegistrationResult) (bool, error) {
	if res.Outcome != attendance.Registered || res.Registration == nil {
		return false, nil
	}
	return true, p.publish(ctx, Notification{
		Kind:      KindRegistered,
		UserID:    res.Registration.UserID,
		SessionID: res.Registration.SessionID,
		At:        res.Registration.RegisteredAt,
	})
}

func (p *Publisher) publish(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	err = p.q.Publish(ctx, queue.Message{Type: n.Kind, Body: body})
	if p.obs != nil {
		p.obs.ObservePublish(n.Kind, err)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind, err)
	}
	return nil
}

// Sender delivers a notification. Real delivery (QR rendering, SMTP) lives
// outside this service.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender records notifications instead of delivering them.
type LogSender struct {
	Log *slog.Logger
}

// Send logs n.
func (s LogSender) Send(ctx context.Context, n Notification) error {
	s.Log.InfoContext(ctx, "notification ready",
		slog.String("kind", n.Kind),
		slog.String("user_id", n.UserID),
		slog.String("session_id", n.SessionID),
		slog.Time("at", n.At),
	)
	return nil
}

// Dispatch decodes a queue message and hands it to sender. Unknown message
// types are skipped.
func Dispatch(ctx context.Context, msg queue.Message, sender Sender) error {
	switch msg.Type {
	case KindCheckedIn, KindRegistered:
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	var n Notification
	if err := json.Unmarshal(msg.Body, &n); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	return sender.Send(ctx, n)
}

// Run consumes q until ctx ends, dispatching each message to sender. A
// message that fails is logged and dropped; the queue has no retry.
func Run(ctx context.Context, q queue.Queue, sender Sender, log *slog.Logger) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for msg := range messages {
		if err := Dispatch(ctx, msg, sender); err != nil {
			log.ErrorContext(ctx, "dispatch notification", slog.String("type", msg.Type), slog.Any("error", err))
		}
	}
	return nil
}
