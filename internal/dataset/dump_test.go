package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlbot/internal/market"
	"mlbot/internal/market/backfill"
	"mlbot/internal/store/archive"
)

const hourMs = int64(3_600_000)

type memSource struct {
	candles []market.Candle
	err     error

	mu       sync.Mutex
	requests []market.KlineRequest
}

func newMemSource(n int) *memSource {
	s := &memSource{}
	for i := 0; i < n; i++ {
		ot := market.BinanceEpoch + int64(i)*hourMs
		p := decimal.NewFromInt(int64(100 + i))
		s.candles = append(s.candles, market.Candle{
			OpenTime: ot, CloseTime: ot + hourMs - 1,
			Open: p, High: p.Add(decimal.NewFromInt(2)), Low: p, Close: p,
			Volume: decimal.NewFromInt(1), QuoteVolume: decimal.NewFromInt(1),
		})
	}
	return s
}

func (s *memSource) MaxPageSize() int { return 4 }

func (s *memSource) GetKlines(_ context.Context, req market.KlineRequest) ([]market.Candle, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []market.Candle
	for _, c := range s.candles {
		if c.OpenTime < req.Start || (req.End > 0 && c.OpenTime > req.End) {
			continue
		}
		out = append(out, c)
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func clockAt(hours int) func() time.Time {
	return func() time.Time {
		return time.UnixMilli(market.BinanceEpoch + int64(hours)*hourMs + 30*60*1000)
	}
}

func TestDumpWritesClosedCandlesAndManifest(t *testing.T) {
	src := newMemSource(12)
	path := filepath.Join(t.TempDir(), "out", "btc.csv")

	res, err := Dump(context.Background(), src, DumpOptions{
		Symbol: "BTC/USDT", Interval: market.Interval1h, CSVPath: path, Now: clockAt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Fetched)
	assert.Equal(t, 10, res.Manifest.Rows)
	assert.Equal(t, market.BinanceEpoch, res.Manifest.FirstOpen)
	assert.Equal(t, market.BinanceEpoch+9*hourMs, res.Manifest.LastOpen)
	assert.Equal(t, 3, res.Manifest.Pages)

	ds, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 10, ds.Len())
	assert.Equal(t, []float64{100}, ds.Features[0])
	assert.Equal(t, 102.0, ds.Labels[0])

	m, err := ReadManifest(ManifestPath(path))
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", m.Symbol)
	assert.Equal(t, "1h", m.Interval)
	assert.Equal(t, 10, m.Rows)
	assert.Empty(t, m.Archive)
	assert.NoFileExists(t, path+".tmp")
}

func TestDumpResumesFromArchive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := archive.NewStore(filepath.Join(dir, "klines"))
	require.NoError(t, err)
	defer store.Close()
	path := filepath.Join(dir, "btc.csv")
	src := newMemSource(12)

	first, err := Dump(ctx, src, DumpOptions{
		Symbol: "BTC/USDT", Interval: market.Interval1h, CSVPath: path, Archive: store, Now: clockAt(5),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, first.Archived)
	assert.Equal(t, 5, first.Manifest.Rows)

	src.requests = nil
	second, err := Dump(ctx, src, DumpOptions{
		Symbol: "BTC/USDT", Interval: market.Interval1h, CSVPath: path, Archive: store, Now: clockAt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, second.Fetched)
	assert.Equal(t, 5, second.Archived)
	assert.Equal(t, 10, second.Manifest.Rows)
	assert.NotEmpty(t, second.Manifest.Archive)
	require.NotEmpty(t, src.requests)
	assert.Equal(t, market.BinanceEpoch+5*hourMs, src.requests[0].Start)

	ds, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 10, ds.Len())
}

func TestDumpKeepsPreviousCSVOnFetchError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btc.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	src := newMemSource(3)
	src.err = errors.New("418 teapot")
	_, err := Dump(context.Background(), src, DumpOptions{
		Symbol: "BTC/USDT", Interval: market.Interval1h, CSVPath: path, Now: clockAt(3),
	})
	var fe *backfill.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, market.BinanceEpoch, fe.Cursor)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(raw))
}

func TestDumpRejectsBadOptions(t *testing.T) {
	_, err := Dump(context.Background(), nil, DumpOptions{Interval: market.Interval1h, CSVPath: "x.csv"})
	assert.Error(t, err)
	_, err = Dump(context.Background(), newMemSource(1), DumpOptions{Interval: "7m", CSVPath: "x.csv"})
	assert.Error(t, err)
	_, err = Dump(context.Background(), newMemSource(1), DumpOptions{Interval: market.Interval1h})
	assert.Error(t, err)
}

func TestDumpEmptyHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btc.csv")
	_, err := Dump(context.Background(), newMemSource(0), DumpOptions{
		Symbol: "BTC/USDT", Interval: market.Interval1h, CSVPath: path, Now: clockAt(3),
	})
	assert.ErrorIs(t, err, ErrEmptyDataset)
	assert.NoFileExists(t, path)
}

func TestReadManifestRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbol: BTC/USDT\nbogus: 1\n"), 0o644))
	_, err := ReadManifest(path)
	assert.Error(t, err)

	_, err = ReadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
