package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_capacity.lua
var reserveCapacityScript string

//go:embed scripts/release_capacity.lua
var releaseCapacityScript string

// Reserve outcomes from the Lua script
const (
	reserveUncached = -1
	reserveSoldOut  = 0
	reserveOK       = 1
)

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveCapacityScript),
		releaseScript: redis.NewScript(releaseCapacityScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func capacityKey(ticketTypeID int64) string {
	return fmt.Sprintf("capacity:%d", ticketTypeID)
}

// ReserveCapacity atomically takes one unit from the cached remaining
// count. Returns (true, true, nil) when a unit was taken, (false, true,
// nil) when the cache says sold out, and known=false when the counter is
// not cached and the caller must decide against the database.
func (c *Client) ReserveCapacity(ctx context.Context, ticketTypeID int64) (reserved, known bool, err error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{capacityKey(ticketTypeID)}).Result()
	if err != nil {
		return false, false, fmt.Errorf("reserve capacity script failed: %w", err)
	}

	outcome, ok := result.(int64)
	if !ok {
		return false, false, fmt.Errorf("unexpected script result type %T", result)
	}

	switch outcome {
	case reserveOK:
		return true, true, nil
	case reserveSoldOut:
		return false, true, nil
	default:
		return false, false, nil
	}
}

// ReleaseCapacity atomically returns one unit to the cached remaining
// count (compensation)
func (c *Client) ReleaseCapacity(ctx context.Context, ticketTypeID int64) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{capacityKey(ticketTypeID)}).Result()
	if err != nil {
		return fmt.Errorf("release capacity script failed: %w", err)
	}
	return nil
}

// InitCapacity seeds the cached remaining count for a ticket type.
// Unlimited types are left uncached so reserves fall through to the
// database.
func (c *Client) InitCapacity(ctx context.Context, ticketTypeID int64, remaining int) error {
	return c.rdb.Set(ctx, capacityKey(ticketTypeID), remaining, 0).Err()
}

// DropCapacity removes the cached counter, forcing database decisions
func (c *Client) DropCapacity(ctx context.Context, ticketTypeID int64) error {
	return c.rdb.Del(ctx, capacityKey(ticketTypeID)).Err()
}

// GetCapacity retrieves the cached remaining count
func (c *Client) GetCapacity(ctx context.Context, ticketTypeID int64) (int, error) {
	remaining, err := c.rdb.Get(ctx, capacityKey(ticketTypeID)).Int()
	if err == redis.Nil {
		return 0, fmt.Errorf("capacity not cached for ticket type %d", ticketTypeID)
	}
	return remaining, err
}
