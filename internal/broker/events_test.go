package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-service/internal/models"
)

func messageFor(t *testing.T, event any) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestEventHandlerRoutesTicketIssued(t *testing.T) {
	eh := NewEventHandler()

	var got *models.TicketIssuedEvent
	eh.OnTicketIssued(func(ctx context.Context, event *models.TicketIssuedEvent) error {
		got = event
		return nil
	})

	msg := messageFor(t, &models.TicketIssuedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeTicketIssued,
			Timestamp: time.Now(),
		},
		TicketID:      42,
		Token:         "TKT-1717430400000X7KQ2M9PBD",
		AttendeeEmail: "ada@example.com",
	})

	require.NoError(t, eh.HandleMessage(context.Background(), msg))
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.TicketID)
	assert.Equal(t, "ada@example.com", got.AttendeeEmail)
}

func TestEventHandlerIgnoresUnregisteredAndUnknownTypes(t *testing.T) {
	eh := NewEventHandler()

	// Known type with no registered handler.
	issued := messageFor(t, &models.TicketIssuedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-2", EventType: models.EventTypeTicketIssued},
	})
	assert.NoError(t, eh.HandleMessage(context.Background(), issued))

	// Unknown type.
	unknown := kafka.Message{Value: []byte(`{"event_id":"evt-3","event_type":"something.else"}`)}
	assert.NoError(t, eh.HandleMessage(context.Background(), unknown))

	// Garbage payload is an error so the consumer does not commit it.
	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
}
