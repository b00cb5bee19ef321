package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mlbot/internal/logger"
	"mlbot/internal/market"
	symbolpkg "mlbot/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2"
)

// SubscribeKlines opens one kline websocket. Events stop when the consumer
// calls Close, ctx ends, or the connection drops; only the last case leaves a
// non-nil Err.
func (c *Client) SubscribeKlines(ctx context.Context, symbol string, interval market.Interval) (market.Stream, error) {
	sym := symbolpkg.Binance.ToExchange(symbol)
	if sym == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !interval.Valid() {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	s := &klineStream{
		events:       make(chan market.CandleEvent, c.cfg.StreamBuffer),
		stopping:     make(chan struct{}),
		finished:     make(chan struct{}),
		closeTimeout: c.cfg.CloseTimeout,
	}
	handler := func(ev *binance.WsKlineEvent) {
		ce, err := convertKlineEvent(ev)
		if err != nil {
			logger.Warnf("[binance] drop kline event: %v", err)
			return
		}
		select {
		case <-s.stopping:
			return
		default:
		}
		s.push(ce)
	}
	errHandler := func(err error) {
		if err == nil {
			return
		}
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}
	doneC, stopC, err := c.wsServe(sym, interval.String(), handler, errHandler)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s@kline_%s: %w", sym, interval, err)
	}
	s.doneC = doneC
	s.stopC = stopC
	logger.Infof("[binance] subscribed %s@kline_%s", sym, interval)

	go func() {
		select {
		case <-doneC:
		case <-ctx.Done():
			s.stop(false)
			<-doneC
		}
		s.finish()
	}()
	return s, nil
}

type klineStream struct {
	events       chan market.CandleEvent
	doneC        chan struct{}
	stopC        chan struct{}
	stopping     chan struct{}
	finished     chan struct{}
	closeTimeout time.Duration

	stopOnce sync.Once
	mu       sync.Mutex
	byUser   bool
	lastErr  error
	err      error
}

func (s *klineStream) Events() <-chan market.CandleEvent { return s.events }

// push enqueues ce. When the buffer is full the oldest non-final update is
// evicted so candle close events survive a slow consumer. Only the websocket
// reader calls push, so re-queued events always fit.
func (s *klineStream) push(ce market.CandleEvent) {
	select {
	case s.events <- ce:
		return
	default:
	}
	held := make([]market.CandleEvent, 0, cap(s.events))
	evicted := false
	for n := len(s.events); n > 0; n-- {
		select {
		case old := <-s.events:
			if !evicted && !old.Final {
				evicted = true
				continue
			}
			held = append(held, old)
		default:
		}
	}
	switch {
	case evicted, len(held) == 0:
	case ce.Final:
		logger.Warnf("[binance] kline channel full of close events, drop oldest %s %s", ce.Symbol, ce.Interval)
		held = held[1:]
	default:
		logger.Warnf("[binance] kline channel full of close events, drop update %s %s", ce.Symbol, ce.Interval)
		for _, old := range held {
			s.events <- old
		}
		return
	}
	for _, old := range held {
		s.events <- old
	}
	s.events <- ce
}

func (s *klineStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the websocket and waits for the reader to exit.
func (s *klineStream) Close() error {
	s.stop(true)
	select {
	case <-s.finished:
		return nil
	case <-time.After(s.closeTimeout):
		return fmt.Errorf("kline stream did not stop within %s", s.closeTimeout)
	}
}

func (s *klineStream) stop(byUser bool) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.byUser = byUser
		s.mu.Unlock()
		close(s.stopping)
		close(s.stopC)
	})
}

// finish runs once the websocket reader has exited, so no handler call can
// race the channel close.
func (s *klineStream) finish() {
	s.mu.Lock()
	select {
	case <-s.stopping:
		if !s.byUser {
			s.err = context.Canceled
		}
	default:
		s.err = market.ErrStreamDisconnected
		if s.lastErr != nil {
			s.err = fmt.Errorf("%w: %v", market.ErrStreamDisconnected, s.lastErr)
		}
	}
	s.mu.Unlock()
	close(s.events)
	close(s.finished)
}
