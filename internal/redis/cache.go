package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/booking-engine/internal/schedule"
)

// versionTTL must outlive every cached entry so that a reset counter can never
// resurrect a stale entry.
const versionTTL = 48 * time.Hour

// AvailabilityCache stores rendered availability per provider, day and
// appointment type. Entries embed a per provider/day version; invalidating a
// day bumps the version, which orphans every entry of that day at once.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func dayKey(ref schedule.ProviderRef, date time.Time) string {
	return fmt.Sprintf("%s:%s:%s", ref.Kind, ref.ID, date.Format(time.DateOnly))
}

func versionKey(ref schedule.ProviderRef, date time.Time) string {
	return "avail:ver:" + dayKey(ref, date)
}

func entryKey(ref schedule.ProviderRef, date time.Time, version int64, typeID uuid.UUID) string {
	return fmt.Sprintf("avail:%s:v%d:%s", dayKey(ref, date), version, typeID)
}

func (c *AvailabilityCache) version(ctx context.Context, ref schedule.ProviderRef, date time.Time) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(ref, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Get returns the entry under the day's current version, and that version.
func (c *AvailabilityCache) Get(ctx context.Context, ref schedule.ProviderRef, date time.Time, typeID uuid.UUID) ([]byte, int64, bool, error) {
	v, err := c.version(ctx, ref, date)
	if err != nil {
		return nil, 0, false, fmt.Errorf("read cache version: %w", err)
	}

	data, err := c.client.Get(ctx, entryKey(ref, date, v, typeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, v, false, nil
	}
	if err != nil {
		return nil, v, false, fmt.Errorf("read cache entry: %w", err)
	}
	return data, v, true, nil
}

// Set writes under the version returned by the Get that preceded the load.
// If the day was invalidated since, the entry is unreachable and just expires.
func (c *AvailabilityCache) Set(ctx context.Context, ref schedule.ProviderRef, date time.Time, typeID uuid.UUID, version int64, data []byte) error {
	if err := c.client.Set(ctx, entryKey(ref, date, version, typeID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, ref schedule.ProviderRef, date time.Time) error {
	key := versionKey(ref, date)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, versionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("bump cache version: %w", err)
	}
	return nil
}
