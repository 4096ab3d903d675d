package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// TicketStore is the repository contract the services depend on. It is
// implemented by *Store over Postgres and by in-memory fakes in tests,
// so the state machine and reconciler never touch SQL directly.
type TicketStore interface {
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	GetTicketType(ctx context.Context, id int64) (*models.TicketType, error)
	ListTicketTypes(ctx context.Context) ([]models.TicketType, error)

	// ReserveCapacity atomically increments quantity_sold when capacity
	// remains. It returns false with a nil error when the type is sold
	// out, and ErrNotFound when the type does not exist.
	ReserveCapacity(ctx context.Context, ticketTypeID int64) (bool, error)
	ReleaseCapacity(ctx context.Context, ticketTypeID int64) error

	CreateAttendee(ctx context.Context, a *models.Attendee) error
	GetAttendee(ctx context.Context, id string) (*models.Attendee, error)

	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicketByID(ctx context.Context, id int64) (*models.Ticket, error)
	GetTicketByToken(ctx context.Context, token string) (*models.Ticket, error)

	// The Mark* mutators are conditional updates: they succeed only when
	// the ticket is still in a state the transition table allows, and
	// report via the bool whether the row was actually transitioned.
	MarkTicketIssued(ctx context.Context, id int64, qrCode []byte) (bool, error)
	MarkTicketCancelled(ctx context.Context, id int64) (bool, error)
	MarkTicketUsed(ctx context.Context, id int64, at time.Time, meta models.CheckinMeta) (bool, error)

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransactionByIntentID(ctx context.Context, intentID string) (*models.Transaction, error)
	GetTransactionByTicketID(ctx context.Context, ticketID int64) (*models.Transaction, error)
	SetTransactionIntent(ctx context.Context, id int64, intentID string) error
	UpdateTransactionStatus(ctx context.Context, id int64, status string) error

	IsWebhookEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID, eventType string) error

	// WithinTx runs fn against a store bound to a single database
	// transaction. The reconciler uses this so a partial failure can
	// never leave the idempotency record and the state change out of
	// sync.
	WithinTx(ctx context.Context, fn func(TicketStore) error) error
}

type Store struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

var _ TicketStore = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, ext: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// WithinTx runs fn inside a single database transaction. Nested calls
// reuse the surrounding transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(TicketStore) error) error {
	if _, ok := s.ext.(*sqlx.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, ext: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// GetEvent retrieves an event by ID
func (s *Store) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	var event models.Event
	err := sqlx.GetContext(ctx, s.ext, &event, "SELECT * FROM events WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetTicketType retrieves a ticket type by ID
func (s *Store) GetTicketType(ctx context.Context, id int64) (*models.TicketType, error) {
	var tt models.TicketType
	err := sqlx.GetContext(ctx, s.ext, &tt, "SELECT * FROM ticket_types WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

// ListTicketTypes retrieves all ticket types
func (s *Store) ListTicketTypes(ctx context.Context) ([]models.TicketType, error) {
	var types []models.TicketType
	err := sqlx.SelectContext(ctx, s.ext, &types, "SELECT * FROM ticket_types ORDER BY id")
	return types, err
}

// ReserveCapacity takes one unit of capacity with a single conditional
// UPDATE, so two concurrent calls for the last unit can never both
// succeed. NULL quantity means unlimited and always reserves.
func (s *Store) ReserveCapacity(ctx context.Context, ticketTypeID int64) (bool, error) {
	res, err := s.ext.ExecContext(ctx,
		`UPDATE ticket_types
		 SET quantity_sold = quantity_sold + 1
		 WHERE id = $1 AND (quantity IS NULL OR quantity_sold < quantity)`,
		ticketTypeID)
	if err != nil {
		return false, fmt.Errorf("failed to reserve capacity: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	// No row updated: either sold out or unknown ticket type.
	var exists bool
	err = sqlx.GetContext(ctx, s.ext, &exists,
		"SELECT EXISTS(SELECT 1 FROM ticket_types WHERE id = $1)", ticketTypeID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// ReleaseCapacity returns one unit of capacity (compensation)
func (s *Store) ReleaseCapacity(ctx context.Context, ticketTypeID int64) error {
	_, err := s.ext.ExecContext(ctx,
		`UPDATE ticket_types
		 SET quantity_sold = quantity_sold - 1
		 WHERE id = $1 AND quantity_sold > 0`,
		ticketTypeID)
	if err != nil {
		return fmt.Errorf("failed to release capacity: %w", err)
	}
	return nil
}
