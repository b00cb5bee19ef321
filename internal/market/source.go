package market

import (
	"context"
	"errors"
)

// BinanceEpoch is the first hourly kline Binance indexes
// (2017-08-17T04:00:00Z) and the default backfill start.
const BinanceEpoch int64 = 1502942400000

// ErrStreamDisconnected is reported by a Stream whose feed dropped without
// the consumer closing it.
var ErrStreamDisconnected = errors.New("kline stream disconnected")

// KlineRequest describes one page request. Zero Start/End mean unset.
type KlineRequest struct {
	Symbol   string
	Interval Interval
	Limit    int
	Start    int64 // unix ms
	End      int64 // unix ms
}

// CandleEvent is one update from a live kline subscription. Final marks the
// last update of the candle.
type CandleEvent struct {
	Symbol   string
	Interval Interval
	Candle   Candle
	Final    bool
}

// Market places orders and quotes prices on one exchange.
type Market interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceBuyOrder(ctx context.Context, symbol string, quoteQty float64, test bool) error
	PlaceSellOrder(ctx context.Context, symbol string, quoteQty float64, test bool) error
}

// KlineSource returns one page of candles ordered by open time. An empty page
// means there is no more data.
type KlineSource interface {
	GetKlines(ctx context.Context, req KlineRequest) ([]Candle, error)
}

// PageSizer is implemented by sources that know their maximum page size.
type PageSizer interface {
	MaxPageSize() int
}

// Stream is a live kline subscription. Events is closed once the stream ends,
// after which Err reports why (nil when closed by the consumer).
type Stream interface {
	Events() <-chan CandleEvent
	Err() error
	Close() error
}

type KlineStreamer interface {
	SubscribeKlines(ctx context.Context, symbol string, interval Interval) (Stream, error)
}

// Exchange is everything the strategy needs from a venue.
type Exchange interface {
	Market
	KlineSource
	KlineStreamer
}
