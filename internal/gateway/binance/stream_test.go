package binance

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlbot/internal/market"
)

// fakeWS mimics binance.WsKlineServe: closing stopC ends the reader, which
// closes doneC.
type fakeWS struct {
	handler    binance.WsKlineHandler
	errHandler binance.ErrHandler
	doneC      chan struct{}
	stopC      chan struct{}
	drop       chan struct{}
	symbol     string
	interval   string
}

func (f *fakeWS) serve(symbol, interval string, handler binance.WsKlineHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error) {
	f.symbol, f.interval = symbol, interval
	f.handler, f.errHandler = handler, errHandler
	f.doneC = make(chan struct{})
	f.stopC = make(chan struct{})
	f.drop = make(chan struct{})
	go func() {
		defer close(f.doneC)
		select {
		case <-f.stopC:
		case <-f.drop:
		}
	}()
	return f.doneC, f.stopC, nil
}

func event(final bool, closeP string) *binance.WsKlineEvent {
	return &binance.WsKlineEvent{
		Symbol: "BTCUSDT",
		Kline: binance.WsKline{
			StartTime: 1502942400000, EndTime: 1502945999999, Interval: "1h",
			Open: "100", High: "110", Low: "95", Close: closeP, Volume: "1", QuoteVolume: "100",
			IsFinal: final,
		},
	}
}

func newStreamClient(t *testing.T) (*Client, *fakeWS) {
	t.Helper()
	c, err := New(Config{StreamBuffer: 4, CloseTimeout: time.Second})
	require.NoError(t, err)
	ws := &fakeWS{}
	c.wsServe = ws.serve
	return c, ws
}

func TestStreamDeliversAndClosesByConsumer(t *testing.T) {
	c, ws := newStreamClient(t)
	s, err := c.SubscribeKlines(context.Background(), "BTC/USDT", market.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ws.symbol)
	assert.Equal(t, "1h", ws.interval)

	ws.handler(event(false, "105.5"))
	ev := <-s.Events()
	assert.Equal(t, "BTC/USDT", ev.Symbol)
	assert.Equal(t, market.Interval1h, ev.Interval)
	assert.Equal(t, "105.5", ev.Candle.Close.String())
	assert.False(t, ev.Final)

	require.NoError(t, s.Close())
	_, open := <-s.Events()
	assert.False(t, open)
	assert.NoError(t, s.Err())
	// second close is a no-op
	assert.NoError(t, s.Close())
}

func TestStreamReportsDisconnect(t *testing.T) {
	c, ws := newStreamClient(t)
	s, err := c.SubscribeKlines(context.Background(), "BTCUSDT", market.Interval1h)
	require.NoError(t, err)

	ws.errHandler(errors.New("read: connection reset"))
	close(ws.drop)

	for range s.Events() {
	}
	assert.ErrorIs(t, s.Err(), market.ErrStreamDisconnected)
	assert.Contains(t, s.Err().Error(), "connection reset")
	assert.NoError(t, s.Close())
}

func TestStreamStopsWithContext(t *testing.T) {
	c, _ := newStreamClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.SubscribeKlines(ctx, "BTCUSDT", market.Interval1h)
	require.NoError(t, err)
	cancel()
	for range s.Events() {
	}
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func drainCloses(t *testing.T, s market.Stream, n int) ([]string, []bool) {
	t.Helper()
	var closes []string
	var finals []bool
	for i := 0; i < n; i++ {
		ev := <-s.Events()
		closes = append(closes, ev.Candle.Close.String())
		finals = append(finals, ev.Final)
	}
	return closes, finals
}

func TestStreamKeepsCloseEventsWhenBufferFull(t *testing.T) {
	c, ws := newStreamClient(t)
	s, err := c.SubscribeKlines(context.Background(), "BTCUSDT", market.Interval1h)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		ws.handler(event(i == 0 || i == 9, strconv.Itoa(100+i)))
	}
	require.Len(t, s.Events(), 4)

	closes, finals := drainCloses(t, s, 4)
	assert.Equal(t, []string{"100", "107", "108", "109"}, closes)
	assert.Equal(t, []bool{true, false, false, true}, finals)
	require.NoError(t, s.Close())
}

func TestStreamFullOfCloseEvents(t *testing.T) {
	c, ws := newStreamClient(t)
	s, err := c.SubscribeKlines(context.Background(), "BTCUSDT", market.Interval1h)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		ws.handler(event(true, strconv.Itoa(100+i)))
	}
	// an update is dropped, a newer close replaces the oldest one
	ws.handler(event(false, "150"))
	ws.handler(event(true, "104"))

	closes, _ := drainCloses(t, s, 4)
	assert.Equal(t, []string{"101", "102", "103", "104"}, closes)
	require.NoError(t, s.Close())
}

func TestConvertKlineEventRejectsGarbage(t *testing.T) {
	ev := event(true, "not-a-number")
	_, err := convertKlineEvent(ev)
	assert.Error(t, err)
	_, err = convertKlineEvent(nil)
	assert.Error(t, err)
}

func TestSubscribeValidates(t *testing.T) {
	c, _ := newStreamClient(t)
	_, err := c.SubscribeKlines(context.Background(), "", market.Interval1h)
	assert.Error(t, err)
	_, err = c.SubscribeKlines(context.Background(), "BTCUSDT", "2M")
	assert.Error(t, err)
}
