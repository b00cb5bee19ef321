package strategy

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mlbot/internal/dataset"
	"mlbot/internal/market"
	"mlbot/internal/market/backfill"
	"mlbot/internal/metrics"
	"mlbot/internal/model"
	"mlbot/internal/store/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSymbol = "BTC/USDT"

var testNow = time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)

type fakeStream struct {
	events chan market.CandleEvent
	err    error
	closes atomic.Int32
}

func newFakeStream(prices ...float64) *fakeStream {
	s := &fakeStream{events: make(chan market.CandleEvent, len(prices)+1)}
	for _, p := range prices {
		s.events <- priceEvent(p, false)
	}
	return s
}

func (s *fakeStream) Events() <-chan market.CandleEvent { return s.events }
func (s *fakeStream) Err() error                        { return s.err }
func (s *fakeStream) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeExchange serves candles from memory and records orders and
// subscriptions through testify's mock.
type fakeExchange struct {
	mock.Mock

	history   []market.Candle
	current   market.Candle
	price     float64
	klinesErr error

	mu       sync.Mutex
	requests []market.KlineRequest
}

func (f *fakeExchange) GetKlines(_ context.Context, req market.KlineRequest) ([]market.Candle, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if req.Start == 0 {
		return []market.Candle{f.current}, nil
	}
	if f.klinesErr != nil {
		return nil, f.klinesErr
	}
	var out []market.Candle
	for _, c := range f.history {
		if c.OpenTime < req.Start || (req.End > 0 && c.OpenTime > req.End) {
			continue
		}
		out = append(out, c)
		if req.Limit > 0 && len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeExchange) GetPrice(context.Context, string) (float64, error) {
	return f.price, nil
}

func (f *fakeExchange) PlaceBuyOrder(_ context.Context, symbol string, quoteQty float64, test bool) error {
	return f.Called(symbol, quoteQty, test).Error(0)
}

func (f *fakeExchange) PlaceSellOrder(_ context.Context, symbol string, quoteQty float64, test bool) error {
	return f.Called(symbol, quoteQty, test).Error(0)
}

func (f *fakeExchange) SubscribeKlines(_ context.Context, symbol string, interval market.Interval) (market.Stream, error) {
	args := f.Called(symbol, interval)
	s, _ := args.Get(0).(market.Stream)
	return s, args.Error(1)
}

type constPredictor float64

func (c constPredictor) Predict(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i := range out {
		out[i] = float64(c)
	}
	return out, nil
}

func (constPredictor) Kind() string { return "const" }

func (c constPredictor) MarshalBinary() ([]byte, error) {
	return []byte(decimal.NewFromFloat(float64(c)).String()), nil
}

type trainerFunc func(ctx context.Context, ds dataset.Dataset) (model.Predictor, error)

func (f trainerFunc) Train(ctx context.Context, ds dataset.Dataset) (model.Predictor, error) {
	return f(ctx, ds)
}

func fixedTrainer(pred float64) trainerFunc {
	return func(context.Context, dataset.Dataset) (model.Predictor, error) {
		return constPredictor(pred), nil
	}
}

func candleAt(t time.Time, open, high, closePrice float64) market.Candle {
	return candleSpan(t, time.Hour, open, high, closePrice)
}

func candleSpan(t time.Time, d time.Duration, open, high, closePrice float64) market.Candle {
	return market.Candle{
		OpenTime:  t.UnixMilli(),
		CloseTime: t.Add(d).UnixMilli() - 1,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(open - 1),
		Close:     decimal.NewFromFloat(closePrice),
		Volume:    decimal.NewFromInt(1),
	}
}

func priceEvent(price float64, final bool) market.CandleEvent {
	return market.CandleEvent{
		Symbol:   testSymbol,
		Interval: market.Interval1h,
		Candle:   candleAt(testNow.Truncate(time.Hour), 100, price, price),
		Final:    final,
	}
}

func newFakeExchange() *fakeExchange {
	start := testNow.Truncate(time.Hour).Add(-48 * time.Hour)
	ex := &fakeExchange{price: 100}
	for i := 0; i < 48; i++ {
		ex.history = append(ex.history, candleAt(start.Add(time.Duration(i)*time.Hour), 100, 102, 101))
	}
	ex.current = candleAt(testNow.Truncate(time.Hour), 100, 101, 101)
	return ex
}

func newTestEngine(t *testing.T, ex *fakeExchange, trainer model.Trainer, mutate func(*Params)) (*Engine, *CancelFlag) {
	t.Helper()
	flag := &CancelFlag{}
	p := Params{
		Config: Config{
			Symbol:          testSymbol,
			Interval:        market.Interval1h,
			Amount:          100,
			Test:            true,
			ProfitTargetPct: 1,
			Lookback:        48 * time.Hour,
			Cooldown:        time.Millisecond,
			PollInterval:    5 * time.Millisecond,
			ErrorBackoff:    time.Millisecond,
		},
		Exchange: ex,
		Trainer:  trainer,
		Flag:     flag,
		Now:      func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&p)
	}
	e, err := NewEngine(p)
	require.NoError(t, err)
	return e, flag
}

func TestRunCycleSkipsWhenPredictionBelowOpenAndClose(t *testing.T) {
	ex := newFakeExchange()
	e, _ := newTestEngine(t, ex, fixedTrainer(99), nil)

	outcome, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	ex.AssertNotCalled(t, "PlaceBuyOrder", mock.Anything, mock.Anything, mock.Anything)
	ex.AssertNotCalled(t, "SubscribeKlines", mock.Anything, mock.Anything)
	assert.Equal(t, PhaseIdle, e.Phase())
}

func TestRunCycleSkipsWhenPredictionBetweenOpenAndClose(t *testing.T) {
	ex := newFakeExchange()
	ex.current = candleAt(testNow.Truncate(time.Hour), 100, 103, 102)
	e, _ := newTestEngine(t, ex, fixedTrainer(101), nil)

	outcome, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	ex.AssertNotCalled(t, "PlaceBuyOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestTrainingWindowEndsAtCurrentHour(t *testing.T) {
	ex := newFakeExchange()
	var trained int
	trainer := trainerFunc(func(_ context.Context, ds dataset.Dataset) (model.Predictor, error) {
		trained = ds.Len()
		return constPredictor(0), nil
	})
	e, _ := newTestEngine(t, ex, trainer, nil)

	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	hour := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.GreaterOrEqual(t, len(ex.requests), 2)
	first := ex.requests[0]
	assert.Equal(t, hour.Add(-48*time.Hour).UnixMilli(), first.Start)
	assert.Equal(t, hour.UnixMilli()-1, first.End)
	assert.Equal(t, 48, trained)

	last := ex.requests[len(ex.requests)-1]
	assert.Equal(t, 1, last.Limit)
	assert.Zero(t, last.Start)
}

func TestTrainingWindowFollowsInterval(t *testing.T) {
	cases := []struct {
		name     string
		interval market.Interval
		now      time.Time
		lookback time.Duration
		end      time.Time
		closed   int
	}{
		{
			name:     "4h excludes the forming candle",
			interval: market.Interval4h,
			now:      time.Date(2024, 1, 1, 13, 30, 0, 0, time.UTC),
			lookback: 48 * time.Hour,
			end:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			closed:   12,
		},
		{
			name:     "15m keeps candles closed within the hour",
			interval: market.Interval15m,
			now:      time.Date(2024, 1, 1, 12, 50, 0, 0, time.UTC),
			lookback: 3 * time.Hour,
			end:      time.Date(2024, 1, 1, 12, 45, 0, 0, time.UTC),
			closed:   12,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := tc.interval.Duration()
			ex := newFakeExchange()
			ex.history = nil
			start := tc.end.Add(-tc.lookback)
			for ot := start; !ot.After(tc.end); ot = ot.Add(d) {
				ex.history = append(ex.history, candleSpan(ot, d, 100, 102, 101))
			}
			ex.current = candleSpan(tc.end, d, 100, 101, 101)

			var trained int
			trainer := trainerFunc(func(_ context.Context, ds dataset.Dataset) (model.Predictor, error) {
				trained = ds.Len()
				return constPredictor(0), nil
			})
			e, _ := newTestEngine(t, ex, trainer, func(p *Params) {
				p.Config.Interval = tc.interval
				p.Config.Lookback = tc.lookback
				p.Now = func() time.Time { return tc.now }
			})

			_, err := e.RunCycle(context.Background())
			require.NoError(t, err)

			first := ex.requests[0]
			assert.Equal(t, start.UnixMilli(), first.Start)
			assert.Equal(t, tc.end.UnixMilli()-1, first.End)
			assert.Equal(t, tc.closed, trained)
		})
	}
}

func TestClosedBeforeStopsAtFormingCandle(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := []market.Candle{
		candleSpan(base, 4*time.Hour, 1, 2, 1),
		candleSpan(base.Add(4*time.Hour), 4*time.Hour, 1, 2, 1),
		candleSpan(base.Add(8*time.Hour), 4*time.Hour, 1, 2, 1),
	}
	seq := func(yield func(market.Candle, error) bool) {
		for _, c := range candles {
			if !yield(c, nil) {
				return
			}
		}
	}
	var got []int64
	for c, err := range closedBefore(seq, base.Add(10*time.Hour).UnixMilli()) {
		require.NoError(t, err)
		got = append(got, c.OpenTime)
	}
	assert.Equal(t, []int64{candles[0].OpenTime, candles[1].OpenTime}, got)
}

func TestEntryPriceIsTakenBeforeBuy(t *testing.T) {
	ex := newFakeExchange()
	stream := newFakeStream(101.5)
	close(stream.events)
	stream.err = market.ErrStreamDisconnected
	ex.On("PlaceBuyOrder", testSymbol, 100.0, true).Return(nil).Once().
		Run(func(mock.Arguments) { ex.price = 200 })
	ex.On("SubscribeKlines", testSymbol, market.Interval1h).Return(stream, nil).Once()
	ex.On("PlaceSellOrder", testSymbol, 100.0, true).Return(nil).Once()
	e, _ := newTestEngine(t, ex, fixedTrainer(105), nil)

	outcome, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSold, outcome, "entry stays at the pre-buy price of 100")
	ex.AssertNumberOfCalls(t, "PlaceSellOrder", 1)
}

func TestCancelDuringCooldownStopsRun(t *testing.T) {
	ex := newFakeExchange()
	var trainings atomic.Int32
	trainer := trainerFunc(func(context.Context, dataset.Dataset) (model.Predictor, error) {
		trainings.Add(1)
		return constPredictor(99), nil
	})
	e, flag := newTestEngine(t, ex, trainer, func(p *Params) {
		p.Config.Cooldown = time.Minute
	})

	go func() {
		for e.Phase() != PhaseGating {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		flag.Set()
	}()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine kept sleeping after the cancel flag was set")
	}
	assert.Equal(t, int32(1), trainings.Load())
	ex.AssertNotCalled(t, "PlaceBuyOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycleBuysOnceThenSellsOnce(t *testing.T) {
	ex := newFakeExchange()
	stream := newFakeStream(100.5, 101.5, 103)
	ex.On("PlaceBuyOrder", testSymbol, 100.0, true).Return(nil).Once()
	ex.On("SubscribeKlines", testSymbol, market.Interval1h).Return(stream, nil).Once()
	ex.On("PlaceSellOrder", testSymbol, 100.0, true).Return(nil).Once()
	rec := metrics.New()
	e, _ := newTestEngine(t, ex, fixedTrainer(105), func(p *Params) { p.Metrics = rec })

	outcome, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSold, outcome)
	ex.AssertExpectations(t)
	ex.AssertNumberOfCalls(t, "PlaceBuyOrder", 1)
	ex.AssertNumberOfCalls(t, "PlaceSellOrder", 1)

	var methods []string
	for _, c := range ex.Calls {
		methods = append(methods, c.Method)
	}
	assert.Equal(t, []string{"PlaceBuyOrder", "SubscribeKlines", "PlaceSellOrder"}, methods)

	assert.GreaterOrEqual(t, stream.closes.Load(), int32(1))
	assert.Len(t, stream.events, 1, "events after the qualifying one stay unconsumed")
	assert.Equal(t, PhaseIdle, e.Phase())
}

func TestProfitBelowTargetKeepsWaiting(t *testing.T) {
	ex := newFakeExchange()
	stream := newFakeStream(100.2, 100.9)
	close(stream.events)
	stream.err = market.ErrStreamDisconnected
	ex.On("PlaceBuyOrder", testSymbol, 100.0, true).Return(nil)
	ex.On("SubscribeKlines", testSymbol, market.Interval1h).Return(stream, nil)
	e, _ := newTestEngine(t, ex, fixedTrainer(105), nil)

	outcome, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisconnected, outcome)
	ex.AssertNotCalled(t, "PlaceSellOrder", mock.Anything, mock.Anything, mock.Anything)
	assert.GreaterOrEqual(t, stream.closes.Load(), int32(1))
}

func TestCloseFallbackSellsAtEntry(t *testing.T) {
	ex := newFakeExchange()
	stream := &fakeStream{events: make(chan market.CandleEvent, 2)}
	stream.events <- priceEvent(100.1, false)
	stream.events <- priceEvent(100.2, true)
	ex.On("PlaceBuyOrder", testSymbol, 100.0, true).Return(nil)
	ex.On("SubscribeKlines", testSymbol, market.Interval1h).Return(stream, nil)
	ex.On("PlaceSellOrder", testSymbol, 100.0, true).Return(nil).Once()
	e, _ := newTestEngine(t, ex, fixedTrainer(105), func(p *Params) {
		p.Policy = ProfitTargetPolicy{CloseFallback: true}
	})

	outcome, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSold, outcome)
	assert.Empty(t, stream.events)
}

func TestCancelAfterBuyExitsWithoutSell(t *testing.T) {
	ex := newFakeExchange()
	e, flag := newTestEngine(t, ex, fixedTrainer(105), nil)
	ex.On("PlaceBuyOrder", testSymbol, 100.0, true).Return(nil).Once().
		Run(func(mock.Arguments) { flag.Set() })

	err := e.Run(context.Background())
	require.NoError(t, err)
	ex.AssertNumberOfCalls(t, "PlaceBuyOrder", 1)
	ex.AssertNotCalled(t, "SubscribeKlines", mock.Anything, mock.Anything)
	ex.AssertNotCalled(t, "PlaceSellOrder", mock.Anything, mock.Anything, mock.Anything)
	st := e.Status()
	assert.Equal(t, OutcomeAborted, st.LastOutcome)
	assert.True(t, st.Cancelled)
}

func TestCancelWhileWaitingAbortsWithoutSell(t *testing.T) {
	ex := newFakeExchange()
	stream := newFakeStream()
	ex.On("PlaceBuyOrder", testSymbol, 100.0, true).Return(nil)
	ex.On("SubscribeKlines", testSymbol, market.Interval1h).Return(stream, nil)
	e, flag := newTestEngine(t, ex, fixedTrainer(105), nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		flag.Set()
	}()
	outcome, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, outcome)
	ex.AssertNotCalled(t, "PlaceSellOrder", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestStreamDisconnectReturnsToIdle(t *testing.T) {
	ex := newFakeExchange()
	stream := newFakeStream()
	close(stream.events)
	stream.err = market.ErrStreamDisconnected
	ex.On("PlaceBuyOrder", testSymbol, 100.0, true).Return(nil)
	ex.On("SubscribeKlines", testSymbol, market.Interval1h).Return(stream, nil)
	e, _ := newTestEngine(t, ex, fixedTrainer(105), nil)

	outcome, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDisconnected, outcome)
	assert.Equal(t, PhaseIdle, e.Phase())
}

func TestBuyErrorIsFatal(t *testing.T) {
	ex := newFakeExchange()
	ex.On("PlaceBuyOrder", testSymbol, 100.0, true).Return(errors.New("insufficient balance"))
	e, _ := newTestEngine(t, ex, fixedTrainer(105), nil)

	err := e.Run(context.Background())
	require.Error(t, err)
	var oe *OrderError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, SideBuy, oe.Side)
	ex.AssertNotCalled(t, "SubscribeKlines", mock.Anything, mock.Anything)
	ex.AssertNumberOfCalls(t, "PlaceBuyOrder", 1)
}

func TestSellErrorIsFatal(t *testing.T) {
	ex := newFakeExchange()
	stream := newFakeStream(102)
	ex.On("PlaceBuyOrder", testSymbol, 100.0, true).Return(nil)
	ex.On("SubscribeKlines", testSymbol, market.Interval1h).Return(stream, nil)
	ex.On("PlaceSellOrder", testSymbol, 100.0, true).Return(errors.New("rejected"))
	e, _ := newTestEngine(t, ex, fixedTrainer(105), nil)

	err := e.Run(context.Background())
	var oe *OrderError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, SideSell, oe.Side)
	assert.EqualError(t, oe.Err, "rejected")
	ex.AssertNumberOfCalls(t, "PlaceSellOrder", 1)
}

func TestFetchErrorAbortsCycle(t *testing.T) {
	ex := newFakeExchange()
	ex.klinesErr = errors.New("boom")
	called := false
	trainer := trainerFunc(func(context.Context, dataset.Dataset) (model.Predictor, error) {
		called = true
		return constPredictor(0), nil
	})
	e, _ := newTestEngine(t, ex, trainer, nil)

	outcome, err := e.RunCycle(context.Background())
	assert.Equal(t, OutcomeError, outcome)
	var fe *backfill.FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, called)
}

func TestEmptyHistoryIsNotTrained(t *testing.T) {
	ex := newFakeExchange()
	ex.history = nil
	called := false
	trainer := trainerFunc(func(context.Context, dataset.Dataset) (model.Predictor, error) {
		called = true
		return constPredictor(0), nil
	})
	e, _ := newTestEngine(t, ex, trainer, nil)

	_, err := e.RunCycle(context.Background())
	require.ErrorIs(t, err, dataset.ErrEmptyDataset)
	assert.False(t, called)
}

func TestRunRetriesCycleErrorsUntilContextEnds(t *testing.T) {
	ex := newFakeExchange()
	ex.klinesErr = errors.New("boom")
	e, _ := newTestEngine(t, ex, fixedTrainer(0), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, e.Run(ctx))

	st := e.Status()
	assert.Greater(t, st.Cycles, 1)
	assert.Equal(t, OutcomeError, st.LastOutcome)
	assert.Contains(t, st.LastError, "boom")
}

func TestRunExitsWhenFlagAlreadySet(t *testing.T) {
	ex := newFakeExchange()
	e, flag := newTestEngine(t, ex, fixedTrainer(105), nil)
	flag.Set()

	require.NoError(t, e.Run(context.Background()))
	assert.Empty(t, ex.requests)
}

func TestTrainedModelIsPersisted(t *testing.T) {
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	defer st.Close()

	ex := newFakeExchange()
	e, _ := newTestEngine(t, ex, fixedTrainer(99), func(p *Params) {
		p.Models = st.Models()
		p.Config.PersistModel = true
		p.Config.KeepModels = 2
	})

	_, err = e.RunCycle(context.Background())
	require.NoError(t, err)

	art, err := st.Models().Latest(context.Background(), testSymbol, "1h")
	require.NoError(t, err)
	assert.Equal(t, "const", art.Kind)
	assert.Equal(t, 48, art.Samples)
	assert.Equal(t, "99", string(art.Blob))
}

func TestNewEngineValidates(t *testing.T) {
	_, err := NewEngine(Params{Trainer: fixedTrainer(1), Config: Config{Symbol: testSymbol, Amount: 1}})
	assert.Error(t, err)
	_, err = NewEngine(Params{Exchange: newFakeExchange(), Trainer: fixedTrainer(1), Config: Config{Symbol: testSymbol}})
	assert.Error(t, err)
	_, err = NewEngine(Params{Exchange: newFakeExchange(), Trainer: fixedTrainer(1), Config: Config{Symbol: testSymbol, Amount: 1, Interval: "7m"}})
	assert.Error(t, err)
}

func TestShouldBuy(t *testing.T) {
	cases := []struct {
		pred, open, close float64
		want              bool
	}{
		{105, 100, 101, true},
		{101, 100, 101, true},
		{100.5, 100, 101, false},
		{99, 100, 101, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ShouldBuy(tc.pred, tc.open, tc.close), "%+v", tc)
	}
}
