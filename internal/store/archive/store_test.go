package archive

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlbot/internal/market"
	"mlbot/internal/market/backfill"
)

const hour = int64(3_600_000)

func hourly(n int, from int64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		ot := from + int64(i)*hour
		p := decimal.RequireFromString("4261.48").Add(decimal.NewFromInt(int64(i)))
		out[i] = market.Candle{OpenTime: ot, CloseTime: ot + hour - 1, Open: p, High: p, Low: p, Close: p,
			Volume: decimal.RequireFromString("0.000123"), QuoteVolume: decimal.NewFromInt(7)}
	}
	return out
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndRangeKeepsDecimals(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	candles := hourly(10, market.BinanceEpoch)

	n, err := s.InsertCandles(ctx, "BTCUSDT", market.Interval1h, candles)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	// upsert does not duplicate
	_, err = s.InsertCandles(ctx, "BTCUSDT", market.Interval1h, candles[:3])
	require.NoError(t, err)

	got, err := s.Range(ctx, "BTCUSDT", market.Interval1h, market.BinanceEpoch+2*hour, market.BinanceEpoch+4*hour, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, market.BinanceEpoch+2*hour, got[0].OpenTime)
	assert.Equal(t, "4263.48", got[0].Open.String())
	assert.Equal(t, "0.000123", got[0].Volume.String())

	m, err := s.Manifest(ctx, "BTCUSDT", market.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, int64(10), m.Rows)
	assert.Equal(t, market.BinanceEpoch, m.MinTime)
	assert.Equal(t, market.BinanceEpoch+9*hour, m.MaxTime)
	assert.Equal(t, "BTCUSDT", m.Symbol)
}

func TestResumeFrom(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	from, err := s.ResumeFrom(ctx, "ETHUSDT", market.Interval1h)
	require.NoError(t, err)
	assert.Zero(t, from)

	_, err = s.InsertCandles(ctx, "ETHUSDT", market.Interval1h, hourly(4, market.BinanceEpoch))
	require.NoError(t, err)
	from, err = s.ResumeFrom(ctx, "ETHUSDT", market.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, market.BinanceEpoch+4*hour, from)
}

func TestSourceFeedsBackfill(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.InsertCandles(ctx, "BTCUSDT", market.Interval1h, hourly(25, market.BinanceEpoch))
	require.NoError(t, err)

	got, err := backfill.Collect(ctx, s.Source(), backfill.Options{
		Symbol:   "BTCUSDT",
		Interval: market.Interval1h,
		PageSize: 7,
	})
	require.NoError(t, err)
	require.Len(t, got, 25)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].OpenTime+hour, got[i].OpenTime)
	}
}

func TestRejectsEmptyKeys(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertCandles(context.Background(), "", market.Interval1h, hourly(1, market.BinanceEpoch))
	assert.Error(t, err)
	_, err = NewStore("")
	assert.Error(t, err)
}
