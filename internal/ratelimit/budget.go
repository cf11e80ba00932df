package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SpendResult is the outcome of a daily spend check.
type SpendResult struct {
	Allowed    bool
	SpentCents int64
	LimitCents int64
}

// SpendTracker tracks how much estimated AI cost each device has accrued
// today. Counters live in Redis and roll over at UTC midnight.
type SpendTracker struct {
	rdb *redis.Client
}

// NewSpendTracker creates a spend tracker. If rdb is nil, all checks pass.
func NewSpendTracker(rdb *redis.Client) *SpendTracker {
	return &SpendTracker{rdb: rdb}
}

func dailySpendKey(deviceID string) string {
	day := time.Now().UTC().Format("2006-01-02")
	return fmt.Sprintf("gamedex:spend:daily:%s:%s", deviceID, day)
}

// CheckDailySpend reports whether the device is still under its daily limit.
func (t *SpendTracker) CheckDailySpend(ctx context.Context, deviceID string, limitCents int64) (SpendResult, error) {
	if t.rdb == nil {
		return SpendResult{Allowed: true, LimitCents: limitCents}, nil
	}

	spent, err := t.rdb.Get(ctx, dailySpendKey(deviceID)).Int64()
	if err != nil && err != redis.Nil {
		// Fail open on Redis errors
		return SpendResult{Allowed: true, LimitCents: limitCents}, nil
	}

	return SpendResult{
		Allowed:    spent < limitCents,
		SpentCents: spent,
		LimitCents: limitCents,
	}, nil
}

// RecordSpend adds cost to the device's daily counter.
func (t *SpendTracker) RecordSpend(ctx context.Context, deviceID string, costCents int64) error {
	if t.rdb == nil || costCents <= 0 {
		return nil
	}

	key := dailySpendKey(deviceID)
	pipe := t.rdb.Pipeline()
	pipe.IncrBy(ctx, key, costCents)
	// Expire at end of day UTC + 1 hour buffer
	now := time.Now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
