package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the Redis side of the order flow. It is never the source of
// truth: a miss or an error always falls back to Postgres.
type Cache struct {
	R redis.Cmdable
}

type StatusEntry struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Cache) SetStatus(ctx context.Context, orderID int64, status string) error {
	b, err := json.Marshal(StatusEntry{Status: status, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.R.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), string(b), TTLStatusCache).Err()
}

// Status returns the cached status; ok is false on a miss.
func (c *Cache) Status(ctx context.Context, orderID int64) (e StatusEntry, ok bool, err error) {
	s, err := c.R.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return StatusEntry{}, false, fmt.Errorf("decode status cache: %w", err)
	}
	return e, true, nil
}

func (c *Cache) RememberOrder(ctx context.Context, externalID string, orderID int64) error {
	return c.R.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID), strconv.FormatInt(orderID, 10), TTLIdempotency).Err()
}

// KnownOrder looks up the order created for externalID.
func (c *Cache) KnownOrder(ctx context.Context, externalID string) (int64, bool, error) {
	s, err := c.R.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency key %s: %w", externalID, err)
	}
	return id, true, nil
}

// FirstSeen marks eventID as processed by service. It reports false when
// the event was already marked.
func (c *Cache) FirstSeen(ctx context.Context, service, eventID string) (bool, error) {
	return c.R.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}

// Forget clears the dedup mark so a failed event can be retried.
func (c *Cache) Forget(ctx context.Context, service, eventID string) error {
	return c.R.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}
