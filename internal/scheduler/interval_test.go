package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mlbot/internal/market"
)

func TestFloorHourIdempotent(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 37, 12, 999, time.UTC)
	floor := FloorHour(ts)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC), floor)
	assert.Equal(t, floor, FloorHour(floor))
	assert.Equal(t, floor, FloorHour(FloorHour(floor)))
}

func TestFloorHourNormalisesZone(t *testing.T) {
	loc := time.FixedZone("plus0530", 5*3600+1800)
	ts := time.Date(2024, 3, 5, 20, 7, 0, 0, loc) // 14:37 UTC
	assert.Equal(t, time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC), FloorHour(ts))
}

func TestCeilHour(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC), CeilHour(ts))
	onBoundary := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, onBoundary, CeilHour(onBoundary))
}

func TestUntilNext(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 45, 0, 0, time.UTC)
	assert.Equal(t, 15*time.Minute, UntilNext(ts, time.Hour))
	assert.Equal(t, time.Hour, UntilNext(FloorHour(ts), time.Hour))
	assert.Equal(t, time.Duration(0), UntilNext(ts, 0))
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, SleepWithContext(ctx, time.Second))
	assert.True(t, SleepWithContext(context.Background(), time.Millisecond))
}

func TestSleepUnlessStopsEarly(t *testing.T) {
	calls := 0
	start := time.Now()
	ok := SleepUnless(context.Background(), time.Minute, 5*time.Millisecond, func() bool {
		calls++
		return calls > 2
	})
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)

	assert.True(t, SleepUnless(context.Background(), 10*time.Millisecond, time.Millisecond, nil))
}

func TestDropUnclosedBinanceKline(t *testing.T) {
	open := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	klines := []market.Candle{
		{OpenTime: open.Add(-time.Hour).UnixMilli()},
		{OpenTime: open.UnixMilli()},
	}
	got := dropUnclosedBinanceKlineAt(klines, time.Hour, open.Add(30*time.Minute), DefaultBinanceKlineGrace)
	assert.Len(t, got, 1)
	got = dropUnclosedBinanceKlineAt(klines, time.Hour, open.Add(2*time.Hour), DefaultBinanceKlineGrace)
	assert.Len(t, got, 2)
	assert.Empty(t, dropUnclosedBinanceKlineAt(nil, time.Hour, open, 0))
}
