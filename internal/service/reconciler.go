package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/gateway"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// WebhookReconciler consumes payment-provider webhook events, verifies
// their authenticity, enforces idempotency, and drives the ticket state
// machine. It is safe under duplicated and out-of-order delivery: the
// effects of an event are applied at most once, inside a single
// database transaction whose last write is the idempotency record.
type WebhookReconciler struct {
	store     store.TicketStore
	lifecycle *TicketStateMachine
	secret    string
	tolerance time.Duration
	logger    *zap.Logger
}

// NewWebhookReconciler creates a new webhook reconciler
func NewWebhookReconciler(st store.TicketStore, lifecycle *TicketStateMachine, webhookSecret string, tolerance time.Duration) *WebhookReconciler {
	return &WebhookReconciler{
		store:     st,
		lifecycle: lifecycle,
		secret:    webhookSecret,
		tolerance: tolerance,
		logger:    util.GetLogger(),
	}
}

// ProcessDelivery verifies and applies one raw webhook delivery. A
// gateway.ErrInvalidSignature return means the caller must respond 4xx
// and not process further; any other error is a retry signal for the
// provider.
func (wr *WebhookReconciler) ProcessDelivery(ctx context.Context, rawBody []byte, signatureHeader string) error {
	ctx, span := util.StartSpan(ctx, "WebhookReconciler.ProcessDelivery")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if err := gateway.VerifySignature(rawBody, signatureHeader, wr.secret, wr.tolerance, time.Now()); err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
		return err
	}

	event, err := gateway.ParseWebhookEvent(rawBody)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch event.Type {
	case gateway.EventPaymentSucceeded:
		return wr.HandlePaymentSucceeded(ctx, event)
	case gateway.EventPaymentFailed:
		return wr.HandlePaymentFailed(ctx, event)
	default:
		// Accept and ignore so the provider does not disable the
		// endpoint over event types we do not care about.
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		wr.logger.Debug("ignoring webhook event type", zap.String("type", event.Type))
		return nil
	}
}

// HandlePaymentSucceeded completes the transaction and issues the
// ticket. Redelivery of an already-processed event returns success with
// no side effects.
func (wr *WebhookReconciler) HandlePaymentSucceeded(ctx context.Context, event *gateway.WebhookEvent) error {
	ctx, span := util.StartSpan(ctx, "WebhookReconciler.HandlePaymentSucceeded")
	defer span.End()

	processed, err := wr.store.IsWebhookEventProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		wr.logger.Info("webhook event already processed", zap.String("event_id", event.ID))
		return nil
	}

	intentID := event.Data.Object.ID
	err = wr.store.WithinTx(ctx, func(tx store.TicketStore) error {
		txn, err := tx.GetTransactionByIntentID(ctx, intentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: intent %s", ErrTransactionNotFound, intentID)
			}
			return err
		}

		if err := tx.UpdateTransactionStatus(ctx, txn.ID, models.TransactionStatusCompleted); err != nil {
			return fmt.Errorf("failed to complete transaction: %w", err)
		}

		if _, err := wr.lifecycle.WithStore(tx).MarkIssued(ctx, txn.TicketID); err != nil {
			return err
		}

		// Last write in the transaction: the idempotency record must
		// never be durable before the effects are.
		return tx.MarkWebhookEventProcessed(ctx, event.ID, event.Type)
	})
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		wr.logger.Error("failed to apply payment success",
			zap.String("event_id", event.ID),
			zap.String("intent_id", intentID),
			zap.Error(err))
		return err
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	wr.logger.Info("payment success applied",
		zap.String("event_id", event.ID),
		zap.String("intent_id", intentID))
	return nil
}

// HandlePaymentFailed fails the transaction and cancels the ticket,
// releasing its capacity reservation. Same idempotency discipline as
// success handling.
func (wr *WebhookReconciler) HandlePaymentFailed(ctx context.Context, event *gateway.WebhookEvent) error {
	ctx, span := util.StartSpan(ctx, "WebhookReconciler.HandlePaymentFailed")
	defer span.End()

	processed, err := wr.store.IsWebhookEventProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		wr.logger.Info("webhook event already processed", zap.String("event_id", event.ID))
		return nil
	}

	intentID := event.Data.Object.ID
	err = wr.store.WithinTx(ctx, func(tx store.TicketStore) error {
		txn, err := tx.GetTransactionByIntentID(ctx, intentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: intent %s", ErrTransactionNotFound, intentID)
			}
			return err
		}

		if err := tx.UpdateTransactionStatus(ctx, txn.ID, models.TransactionStatusFailed); err != nil {
			return fmt.Errorf("failed to fail transaction: %w", err)
		}

		if err := wr.lifecycle.WithStore(tx).MarkCancelled(ctx, txn.TicketID, "payment_failed"); err != nil {
			return err
		}

		return tx.MarkWebhookEventProcessed(ctx, event.ID, event.Type)
	})
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		wr.logger.Error("failed to apply payment failure",
			zap.String("event_id", event.ID),
			zap.String("intent_id", intentID),
			zap.Error(err))
		return err
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	wr.logger.Info("payment failure applied",
		zap.String("event_id", event.ID),
		zap.String("intent_id", intentID))
	return nil
}
