// Package notifier delivers ticket and reminder messages to attendees.
// Delivery is fire-and-forget from the core's perspective: failures are
// logged and retried by the worker, never propagated into ticket state.
package notifier

import (
	"context"
	"time"

	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// Notifier sends attendee-facing messages
type Notifier interface {
	SendTicketIssued(ctx context.Context, attendeeEmail, attendeeName, eventName, token string, qrCode []byte) error
	SendReminder(ctx context.Context, attendeeEmail, eventName string, startsAt time.Time) error
}

// LogNotifier logs instead of sending. It stands in for the real
// email/SMS integration in development and tests.
type LogNotifier struct {
	logger *zap.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) SendTicketIssued(ctx context.Context, attendeeEmail, attendeeName, eventName, token string, qrCode []byte) error {
	n.logger.Info("ticket issued notification",
		zap.String("email", attendeeEmail),
		zap.String("event", eventName),
		zap.String("token", token),
		zap.Int("qr_bytes", len(qrCode)))
	return nil
}

func (n *LogNotifier) SendReminder(ctx context.Context, attendeeEmail, eventName string, startsAt time.Time) error {
	n.logger.Info("event reminder notification",
		zap.String("email", attendeeEmail),
		zap.String("event", eventName),
		zap.Time("starts_at", startsAt))
	return nil
}
