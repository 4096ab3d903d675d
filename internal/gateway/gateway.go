// Package gateway integrates with the payment provider. The rest of the
// service depends only on the Gateway interface, so the payment provider
// is swappable and unit tests run against the mock.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Webhook event types the reconciler cares about. All other types are
// acknowledged and ignored.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// Intent is the provider-side payment intent created for a paid ticket.
// ClientSecret is handed to the browser to complete payment client-side.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// Gateway creates payment intents with the provider
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinorUnits int64, currency string, metadata map[string]string) (*Intent, error)
}

// WebhookEvent is the provider's webhook envelope
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object PaymentIntentPayload `json:"object"`
	} `json:"data"`
}

// PaymentIntentPayload is the payment intent object carried in webhook
// events
type PaymentIntentPayload struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// ParseWebhookEvent decodes a raw webhook body into the envelope
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("webhook event missing id or type")
	}
	return &event, nil
}
