package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"sentinel/internal/domain"
)

// Ledger remembers which (report, channel) pairs were delivered.
// storage.Store satisfies it with the deliveries table.
type Ledger interface {
	Delivered(ctx context.Context, reportKey, channel string) (bool, error)
	MarkDelivered(ctx context.Context, reportKey, channel string, at domain.UTCTime) error
}

func ledgerKey(reportKey, channel string) string { return reportKey + "|" + channel }

// MemoryLedger keeps delivery marks in process memory.
type MemoryLedger struct {
	c *gocache.Cache
}

// NewMemoryLedger returns a ledger whose marks expire after ttl (0 keeps them forever).
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		return &MemoryLedger{c: gocache.New(gocache.NoExpiration, 0)}
	}
	return &MemoryLedger{c: gocache.New(ttl, ttl)}
}

func (l *MemoryLedger) Delivered(_ context.Context, reportKey, channel string) (bool, error) {
	_, ok := l.c.Get(ledgerKey(reportKey, channel))
	return ok, nil
}

func (l *MemoryLedger) MarkDelivered(_ context.Context, reportKey, channel string, at domain.UTCTime) error {
	l.c.SetDefault(ledgerKey(reportKey, channel), at)
	return nil
}

func (l *MemoryLedger) Len() int { return l.c.ItemCount() }

// RedisLedger stores marks as sentinel:delivered:<report key>:<channel>.
type RedisLedger struct {
	rdb redis.Cmdable
	ttl time.Duration
}

const redisLedgerPrefix = "sentinel:delivered:"

// NewRedisLedger returns a ledger over rdb. Marks expire after ttl; a zero
// ttl defaults to 90 days.
func NewRedisLedger(rdb redis.Cmdable, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &RedisLedger{rdb: rdb, ttl: ttl}
}

func (l *RedisLedger) key(reportKey, channel string) string {
	return redisLedgerPrefix + reportKey + ":" + channel
}

func (l *RedisLedger) Delivered(ctx context.Context, reportKey, channel string) (bool, error) {
	_, err := l.rdb.Get(ctx, l.key(reportKey, channel)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: redis get: %w", err)
	}
	return true, nil
}

func (l *RedisLedger) MarkDelivered(ctx context.Context, reportKey, channel string, at domain.UTCTime) error {
	// NX keeps the first delivery time.
	if _, err := l.rdb.SetNX(ctx, l.key(reportKey, channel), at.UnixMilli(), l.ttl).Result(); err != nil {
		return fmt.Errorf("ledger: redis setnx: %w", err)
	}
	return nil
}
