package archive

import (
	"context"
	"database/sql"
	"fmt"

	"mlbot/internal/market"

	"github.com/shopspring/decimal"
)

// MaxPageSize bounds one Range read.
const MaxPageSize = 5000

// Range reads candles with start <= open_time <= end in ascending order. Zero
// end means unbounded.
func (s *Store) Range(ctx context.Context, symbol string, interval market.Interval, start, end int64, limit int) ([]market.Candle, error) {
	db, _, err := s.db(symbol, interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	var rows *sql.Rows
	if end > 0 {
		rows, err = db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, quote_volume
			FROM candles WHERE open_time BETWEEN ? AND ?
			ORDER BY open_time ASC LIMIT ?`, start, end, limit)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, quote_volume
			FROM candles WHERE open_time >= ?
			ORDER BY open_time ASC LIMIT ?`, start, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Candle
	for rows.Next() {
		var c market.Candle
		var open, high, low, closeP, vol, quote string
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &open, &high, &low, &closeP, &vol, &quote); err != nil {
			return nil, err
		}
		if err := decodeDecimals(&c, open, high, low, closeP, vol, quote); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeDecimals(c *market.Candle, raw ...string) error {
	dst := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.QuoteVolume}
	for i, v := range raw {
		d, err := market.ParseDecimal(v)
		if err != nil {
			return fmt.Errorf("candle %d column %d: %w", c.OpenTime, i+2, err)
		}
		*dst[i] = d
	}
	return nil
}

// Source adapts the archive to market.KlineSource so the backfill generator
// can page through local data.
type Source struct {
	store *Store
}

func (s *Store) Source() *Source { return &Source{store: s} }

func (a *Source) MaxPageSize() int { return MaxPageSize }

func (a *Source) GetKlines(ctx context.Context, req market.KlineRequest) ([]market.Candle, error) {
	return a.store.Range(ctx, req.Symbol, req.Interval, req.Start, req.End, req.Limit)
}
