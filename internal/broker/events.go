package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes notification events for the worker to act on
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishTicketIssued publishes a TicketIssued event
func (ep *EventPublisher) PublishTicketIssued(ctx context.Context, event *models.TicketIssuedEvent) error {
	key := fmt.Sprintf("ticket-%d", event.TicketID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishTicketCancelled publishes a TicketCancelled event
func (ep *EventPublisher) PublishTicketCancelled(ctx context.Context, event *models.TicketCancelledEvent) error {
	key := fmt.Sprintf("ticket-%d", event.TicketID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishEventReminder publishes an EventReminder event
func (ep *EventPublisher) PublishEventReminder(ctx context.Context, event *models.EventReminderEvent) error {
	key := fmt.Sprintf("ticket-%d", event.TicketID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming broker messages to registered handlers
type EventHandler struct {
	logger            *zap.Logger
	onTicketIssued    func(context.Context, *models.TicketIssuedEvent) error
	onTicketCancelled func(context.Context, *models.TicketCancelledEvent) error
	onEventReminder   func(context.Context, *models.EventReminderEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnTicketIssued registers a handler for TicketIssued events
func (eh *EventHandler) OnTicketIssued(handler func(context.Context, *models.TicketIssuedEvent) error) {
	eh.onTicketIssued = handler
}

// OnTicketCancelled registers a handler for TicketCancelled events
func (eh *EventHandler) OnTicketCancelled(handler func(context.Context, *models.TicketCancelledEvent) error) {
	eh.onTicketCancelled = handler
}

// OnEventReminder registers a handler for EventReminder events
func (eh *EventHandler) OnEventReminder(handler func(context.Context, *models.EventReminderEvent) error) {
	eh.onEventReminder = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeTicketIssued:
		if eh.onTicketIssued != nil {
			var event models.TicketIssuedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TicketIssued event: %w", err)
			}
			return eh.onTicketIssued(ctx, &event)
		}

	case models.EventTypeTicketCancelled:
		if eh.onTicketCancelled != nil {
			var event models.TicketCancelledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal TicketCancelled event: %w", err)
			}
			return eh.onTicketCancelled(ctx, &event)
		}

	case models.EventTypeEventReminder:
		if eh.onEventReminder != nil {
			var event models.EventReminderEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal EventReminder event: %w", err)
			}
			return eh.onEventReminder(ctx, &event)
		}

	default:
		eh.logger.Debug("unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
