package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/redisclient"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// CapacityLedger tracks sold/available counts per ticket type and hands
// out single-unit reservations. The database conditional update is the
// source of truth; the Redis counter is a cheap pre-filter that lets
// sold-out registrations fail before touching Postgres.
type CapacityLedger struct {
	store  store.TicketStore
	redis  *redisclient.Client // nil disables the fast path
	logger *zap.Logger
}

// NewCapacityLedger creates a new capacity ledger
func NewCapacityLedger(st store.TicketStore, redis *redisclient.Client) *CapacityLedger {
	return &CapacityLedger{
		store:  st,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// WithStore returns a copy of the ledger bound to st, so releases can
// participate in a caller-owned transaction.
func (cl *CapacityLedger) WithStore(st store.TicketStore) *CapacityLedger {
	c := *cl
	c.store = st
	return &c
}

// Reserve atomically takes one unit of capacity for the ticket type.
// Two concurrent calls against the last remaining unit yield exactly one
// success and one ErrSoldOut.
func (cl *CapacityLedger) Reserve(ctx context.Context, ticketTypeID int64) error {
	ctx, span := util.StartSpan(ctx, "CapacityLedger.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CapacityReserveLatency.Observe(time.Since(start).Seconds())
	}()

	cachedReserve := false
	if cl.redis != nil {
		reserved, known, err := cl.redis.ReserveCapacity(ctx, ticketTypeID)
		switch {
		case err != nil:
			cl.logger.Warn("redis capacity check failed, deciding against database",
				zap.Int64("ticket_type_id", ticketTypeID),
				zap.Error(err))
		case known && !reserved:
			util.CapacityReservationsFailed.WithLabelValues("sold_out").Inc()
			return ErrSoldOut
		case known && reserved:
			cachedReserve = true
		}
	}

	// The cache only pre-filters; the conditional update decides.
	ok, err := cl.store.ReserveCapacity(ctx, ticketTypeID)
	if err != nil {
		if cachedReserve {
			cl.releaseCache(ctx, ticketTypeID)
		}
		if errors.Is(err, store.ErrNotFound) {
			util.CapacityReservationsFailed.WithLabelValues("unknown_type").Inc()
			return ErrUnknownTicketType
		}
		util.CapacityReservationsFailed.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reserve capacity: %w", err)
	}
	if !ok {
		if cachedReserve {
			cl.releaseCache(ctx, ticketTypeID)
		}
		util.CapacityReservationsFailed.WithLabelValues("sold_out").Inc()
		return ErrSoldOut
	}

	return nil
}

// Release returns one unit of capacity. Used only as a compensating
// action when a reservation's owning ticket is cancelled or registration
// aborts after the reservation succeeded.
func (cl *CapacityLedger) Release(ctx context.Context, ticketTypeID int64) error {
	ctx, span := util.StartSpan(ctx, "CapacityLedger.Release")
	defer span.End()

	if err := cl.store.ReleaseCapacity(ctx, ticketTypeID); err != nil {
		return fmt.Errorf("failed to release capacity: %w", err)
	}

	cl.releaseCache(ctx, ticketTypeID)
	return nil
}

func (cl *CapacityLedger) releaseCache(ctx context.Context, ticketTypeID int64) {
	if cl.redis == nil {
		return
	}
	if err := cl.redis.ReleaseCapacity(ctx, ticketTypeID); err != nil {
		cl.logger.Error("failed to release cached capacity",
			zap.Int64("ticket_type_id", ticketTypeID),
			zap.Error(err))
	}
}

// SyncCapacityToRedis seeds the cached remaining counters from the
// database at startup. Unlimited types are left uncached.
func (cl *CapacityLedger) SyncCapacityToRedis(ctx context.Context) error {
	if cl.redis == nil {
		return nil
	}

	cl.logger.Info("starting capacity sync to redis")

	types, err := cl.store.ListTicketTypes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ticket types: %w", err)
	}

	for _, tt := range types {
		if tt.Quantity == nil {
			continue
		}
		remaining := *tt.Quantity - tt.QuantitySold
		if remaining < 0 {
			remaining = 0
		}
		if err := cl.redis.InitCapacity(ctx, tt.ID, remaining); err != nil {
			cl.logger.Error("failed to init cached capacity",
				zap.Int64("ticket_type_id", tt.ID),
				zap.Error(err))
		}
	}

	cl.logger.Info("capacity sync completed", zap.Int("count", len(types)))
	return nil
}
