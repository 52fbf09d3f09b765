package cost

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// SpendTracker persists the running daily spend in Redis so the counter
// survives restarts. Amounts are stored in hundredths of a cent to keep the
// counter integral. If rdb is nil, all operations are no-ops (fail open).
type SpendTracker struct {
	rdb *redis.Client
}

func NewSpendTracker(rdb *redis.Client) *SpendTracker {
	return &SpendTracker{rdb: rdb}
}

const spendScale = 10000 // USD -> hundredths of a cent

func dailySpendKey(day time.Time) string {
	return fmt.Sprintf("refinery:spend:daily:%s", day.UTC().Format("2006-01-02"))
}

// RecordSpend adds cost to today's spend counter.
func (s *SpendTracker) RecordSpend(ctx context.Context, costUSD float64) error {
	if s.rdb == nil || costUSD <= 0 {
		return nil
	}

	now := time.Now().UTC()
	key := dailySpendKey(now)
	amount := int64(math.Round(costUSD * spendScale))

	pipe := s.rdb.Pipeline()
	pipe.IncrBy(ctx, key, amount)
	// Expire at end of day UTC + 1 hour buffer
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	ttl := endOfDay.Sub(now) + time.Hour
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// DailySpend returns today's accumulated spend in USD. Redis errors fail open
// with zero spend.
func (s *SpendTracker) DailySpend(ctx context.Context) float64 {
	if s.rdb == nil {
		return 0
	}
	raw, err := s.rdb.Get(ctx, dailySpendKey(time.Now())).Int64()
	if err != nil && err != redis.Nil {
		return 0
	}
	return float64(raw) / spendScale
}
