// Package backfill pages historical candles out of a KlineSource as a lazy,
// strictly ordered sequence.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"mlbot/internal/logger"
	"mlbot/internal/market"
)

// DefaultPageSize is used when the source does not report its own limit.
const DefaultPageSize = 500

// Options bound one backfill run. Zero Start means market.BinanceEpoch; zero
// End and MaxCandles mean unbounded.
type Options struct {
	Symbol     string
	Interval   market.Interval
	Start      int64
	End        int64
	PageSize   int
	MaxCandles int
}

// FetchError reports a failed page request. The generator does not retry.
type FetchError struct {
	Symbol   string
	Interval market.Interval
	Cursor   int64
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("backfill %s %s from %d: %v", e.Symbol, e.Interval, e.Cursor, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

var errNoProgress = errors.New("source returned no candle at or after the cursor")

// Generator is a pull iterator over candles. It is not safe for concurrent
// use and holds no state shared with other generators.
type Generator struct {
	src  market.KlineSource
	opts Options
	step int64

	cursor  int64
	page    []market.Candle
	pos     int
	cur     market.Candle
	last    int64
	yielded int
	pages   int
	err     error
	done    bool
}

func New(src market.KlineSource, opts Options) *Generator {
	g := &Generator{src: src, opts: opts, step: opts.Interval.Millis(), last: -1}
	if g.opts.PageSize <= 0 {
		g.opts.PageSize = DefaultPageSize
		if sizer, ok := src.(market.PageSizer); ok && sizer.MaxPageSize() > 0 {
			g.opts.PageSize = sizer.MaxPageSize()
		}
	}
	g.cursor = opts.Start
	if g.cursor <= 0 {
		g.cursor = market.BinanceEpoch
	}
	if src == nil {
		g.fail(errors.New("nil kline source"))
	} else if g.step <= 0 {
		g.fail(fmt.Errorf("unsupported interval %q", opts.Interval))
	}
	return g
}

// Next advances to the next candle, fetching a new page when the current one
// is drained. It returns false once the sequence is exhausted or failed.
func (g *Generator) Next(ctx context.Context) bool {
	for {
		if g.done {
			return false
		}
		if g.opts.MaxCandles > 0 && g.yielded >= g.opts.MaxCandles {
			g.done = true
			return false
		}
		if g.pos < len(g.page) {
			c := g.page[g.pos]
			g.pos++
			if c.OpenTime <= g.last {
				continue
			}
			if g.opts.End > 0 && c.OpenTime > g.opts.End {
				g.done = true
				return false
			}
			g.cur = c
			g.last = c.OpenTime
			g.yielded++
			return true
		}
		if !g.fetch(ctx) {
			return false
		}
	}
}

func (g *Generator) fetch(ctx context.Context) bool {
	if g.opts.End > 0 && g.cursor > g.opts.End {
		g.done = true
		return false
	}
	if err := ctx.Err(); err != nil {
		g.fail(err)
		return false
	}
	limit := g.opts.PageSize
	if g.opts.MaxCandles > 0 {
		if left := g.opts.MaxCandles - g.yielded; left < limit {
			limit = left
		}
	}
	req := market.KlineRequest{
		Symbol:   g.opts.Symbol,
		Interval: g.opts.Interval,
		Limit:    limit,
		Start:    g.cursor,
		End:      g.opts.End,
	}
	data, err := g.src.GetKlines(ctx, req)
	if err != nil {
		g.fail(&FetchError{Symbol: g.opts.Symbol, Interval: g.opts.Interval, Cursor: g.cursor, Err: err})
		return false
	}
	g.pages++
	if len(data) == 0 {
		logger.Debugf("backfill %s %s exhausted at %d after %d pages", g.opts.Symbol, g.opts.Interval, g.cursor, g.pages)
		g.done = true
		return false
	}
	page := make([]market.Candle, 0, len(data))
	for _, c := range data {
		if c.OpenTime < g.cursor {
			continue
		}
		page = append(page, c)
	}
	if len(page) == 0 {
		g.fail(&FetchError{Symbol: g.opts.Symbol, Interval: g.opts.Interval, Cursor: g.cursor, Err: errNoProgress})
		return false
	}
	g.page = page
	g.pos = 0
	g.cursor = page[len(page)-1].OpenTime + g.step
	logger.Debugf("backfill %s %s page=%d candles=%d next=%d", g.opts.Symbol, g.opts.Interval, g.pages, len(page), g.cursor)
	return true
}

func (g *Generator) fail(err error) {
	g.err = err
	g.done = true
	g.page = nil
}

// Candle returns the candle produced by the last successful Next.
func (g *Generator) Candle() market.Candle { return g.cur }

// Err returns the terminal error, or nil if the sequence ended normally.
func (g *Generator) Err() error { return g.err }

// Cursor is the open time the next page request will start from.
func (g *Generator) Cursor() int64 { return g.cursor }

// Pages counts page requests issued so far.
func (g *Generator) Pages() int { return g.pages }

func (g *Generator) Yielded() int { return g.yielded }

// All adapts the generator to a range-over-func sequence. A terminal error is
// yielded once as the final element.
func (g *Generator) All(ctx context.Context) iter.Seq2[market.Candle, error] {
	return func(yield func(market.Candle, error) bool) {
		for g.Next(ctx) {
			if !yield(g.cur, nil) {
				return
			}
		}
		if g.err != nil {
			yield(market.Candle{}, g.err)
		}
	}
}

// Collect drains a generator into a slice.
func Collect(ctx context.Context, src market.KlineSource, opts Options) ([]market.Candle, error) {
	g := New(src, opts)
	var out []market.Candle
	for g.Next(ctx) {
		out = append(out, g.Candle())
	}
	return out, g.Err()
}
