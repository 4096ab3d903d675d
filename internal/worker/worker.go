package worker

import (
	"context"

	"ticket-service/internal/broker"
	"ticket-service/internal/models"
	"ticket-service/internal/notifier"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes ticket events from the broker and drives
// the notifier. Delivery failures are logged and the message is left
// uncommitted so it is retried; they never affect ticket state.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	notifier     notifier.Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, n notifier.Notifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		notifier: n,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnTicketIssued(w.handleTicketIssued)
	eventHandler.OnEventReminder(w.handleEventReminder)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleTicketIssued(ctx context.Context, event *models.TicketIssuedEvent) error {
	err := w.notifier.SendTicketIssued(ctx, event.AttendeeEmail, event.AttendeeName, event.EventName, event.Token, event.QRCode)
	if err != nil {
		util.NotificationsTotal.WithLabelValues("ticket_issued", "failed").Inc()
		w.logger.Error("failed to send ticket issued notification",
			zap.Int64("ticket_id", event.TicketID),
			zap.Error(err))
		return err
	}

	util.NotificationsTotal.WithLabelValues("ticket_issued", "sent").Inc()
	return nil
}

func (w *NotificationWorker) handleEventReminder(ctx context.Context, event *models.EventReminderEvent) error {
	err := w.notifier.SendReminder(ctx, event.AttendeeEmail, event.EventName, event.StartsAt)
	if err != nil {
		util.NotificationsTotal.WithLabelValues("reminder", "failed").Inc()
		w.logger.Error("failed to send event reminder",
			zap.Int64("ticket_id", event.TicketID),
			zap.Error(err))
		return err
	}

	util.NotificationsTotal.WithLabelValues("reminder", "sent").Inc()
	return nil
}
