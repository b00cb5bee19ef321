// Package strategy runs the train, gate, buy, wait and sell cycle against one
// symbol until the cancel flag is set.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mlbot/internal/dataset"
	"mlbot/internal/gateway/notifier"
	"mlbot/internal/logger"
	"mlbot/internal/market"
	"mlbot/internal/market/backfill"
	"mlbot/internal/metrics"
	"mlbot/internal/model"
	"mlbot/internal/pkg/trading"
	"mlbot/internal/scheduler"
	"mlbot/internal/store"
	storemodel "mlbot/internal/store/model"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	defaultPollInterval = 250 * time.Millisecond
	defaultErrorBackoff = time.Minute
	defaultCooldown     = time.Hour
	defaultLookback     = 30 * 24 * time.Hour
)

// Config holds the trading parameters of one engine.
type Config struct {
	Symbol          string
	Interval        market.Interval
	Amount          float64
	Test            bool
	ProfitTargetPct float64
	Lookback        time.Duration
	Cooldown        time.Duration
	UntilNextCandle bool
	PollInterval    time.Duration
	ErrorBackoff    time.Duration
	PersistModel    bool
	KeepModels      int
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = market.Interval1h
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = defaultErrorBackoff
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.Lookback <= 0 {
		c.Lookback = defaultLookback
	}
	return c
}

func (c Config) mode() string {
	if c.Test {
		return "test"
	}
	return "live"
}

type Params struct {
	Config   Config
	Exchange market.Exchange
	Trainer  model.Trainer
	Policy   SellPolicy
	Flag     *CancelFlag
	Notifier notifier.TextNotifier
	Models   store.ModelRepository
	Metrics  *metrics.Recorder
	Now      func() time.Time
}

// Engine is single-use per goroutine; Status may be called concurrently.
type Engine struct {
	cfg      Config
	exchange market.Exchange
	trainer  model.Trainer
	policy   SellPolicy
	flag     *CancelFlag
	notifier notifier.TextNotifier
	models   store.ModelRepository
	metrics  *metrics.Recorder
	now      func() time.Time

	phase atomic.Int32

	mu          sync.RWMutex
	state       TradeState
	cycles      int
	lastOutcome Outcome
	lastErr     string
	updatedAt   time.Time
}

func NewEngine(p Params) (*Engine, error) {
	if p.Exchange == nil {
		return nil, errors.New("strategy: exchange is required")
	}
	if p.Trainer == nil {
		return nil, errors.New("strategy: trainer is required")
	}
	cfg := p.Config.withDefaults()
	if strings.TrimSpace(cfg.Symbol) == "" {
		return nil, errors.New("strategy: symbol is required")
	}
	if !cfg.Interval.Valid() {
		return nil, fmt.Errorf("strategy: unsupported interval %q", cfg.Interval)
	}
	if cfg.Amount <= 0 {
		return nil, fmt.Errorf("strategy: amount must be > 0, got %v", cfg.Amount)
	}
	e := &Engine{
		cfg:      cfg,
		exchange: p.Exchange,
		trainer:  p.Trainer,
		policy:   p.Policy,
		flag:     p.Flag,
		notifier: p.Notifier,
		models:   p.Models,
		metrics:  p.Metrics,
		now:      p.Now,
	}
	if e.policy == nil {
		e.policy = ProfitTargetPolicy{}
	}
	if e.flag == nil {
		e.flag = &CancelFlag{}
	}
	if e.notifier == nil {
		e.notifier = notifier.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Run loops over cycles until the cancel flag is observed between cycles or
// ctx ends. Order errors stop the loop and are returned; any other cycle
// error is reported and retried after the error backoff.
func (e *Engine) Run(ctx context.Context) error {
	logger.Infof("[strategy] start symbol=%s interval=%s mode=%s policy=%s target=%.4f%% amount=%v",
		e.cfg.Symbol, e.cfg.Interval, e.cfg.mode(), e.policy.Name(), e.cfg.ProfitTargetPct, e.cfg.Amount)
	e.notify("Bot started",
		fmt.Sprintf("Symbol: %s %s", e.cfg.Symbol, e.cfg.Interval),
		fmt.Sprintf("Mode: %s", e.cfg.mode()),
		fmt.Sprintf("Sell policy: %s", e.policy.Name()),
		fmt.Sprintf("Profit target: %.4f%%", e.cfg.ProfitTargetPct),
	)
	for {
		if e.flag.IsSet() {
			logger.Infof("[strategy] cancellation observed, exiting")
			e.notify("Bot stopped", "Cancellation requested")
			return nil
		}
		if ctx.Err() != nil {
			logger.Infof("[strategy] context done, exiting")
			return nil
		}
		outcome, err := e.RunCycle(ctx)
		if err == nil {
			e.finishCycle(outcome, nil)
			continue
		}
		e.finishCycle(OutcomeError, err)
		if IsOrderError(err) {
			logger.Errorf("[strategy] fatal: %v", err)
			e.notify("Order failed, stopping", err.Error())
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		logger.Errorf("[strategy] cycle failed: %v", err)
		e.notify("Cycle failed", err.Error(), fmt.Sprintf("Retrying in %s", e.cfg.ErrorBackoff))
		scheduler.SleepUnless(ctx, e.cfg.ErrorBackoff, e.cfg.PollInterval, e.flag.IsSet)
	}
}

// RunCycle performs one Idle to Idle pass. The phase is back to Idle when it
// returns.
func (e *Engine) RunCycle(ctx context.Context) (Outcome, error) {
	e.resetState()
	defer e.setPhase(PhaseIdle)
	if e.flag.IsSet() {
		return OutcomeAborted, nil
	}

	e.setPhase(PhaseTraining)
	predictor, err := e.train(ctx)
	if err != nil {
		return OutcomeError, err
	}
	current, err := e.currentCandle(ctx)
	if err != nil {
		return OutcomeError, err
	}
	price, err := e.exchange.GetPrice(ctx, e.cfg.Symbol)
	if err != nil {
		return OutcomeError, fmt.Errorf("get price: %w", err)
	}
	pred, err := model.PredictOne(predictor, dataset.Features(current))
	if err != nil {
		return OutcomeError, fmt.Errorf("predict: %w", err)
	}
	e.metrics.Prediction(pred)
	open, closePrice := current.Open.InexactFloat64(), current.Close.InexactFloat64()
	e.updateState(func(s *TradeState) {
		s.EntryPrice = price
		s.PredictedHigh = pred
		s.ProfitTargetPct = e.cfg.ProfitTargetPct
		s.Open = open
		s.Close = closePrice
	})

	e.setPhase(PhaseGating)
	logger.Infof("[strategy] %s predicted=%.8g open=%.8g close=%.8g price=%.8g", e.cfg.Symbol, pred, open, closePrice, price)
	if !ShouldBuy(pred, open, closePrice) {
		e.notify("Skipping trade",
			fmt.Sprintf("Predicted high %.8g is below open %.8g or close %.8g", pred, open, closePrice))
		e.cooldown(ctx)
		return OutcomeSkipped, nil
	}
	if e.flag.IsSet() {
		return OutcomeAborted, nil
	}

	if err := e.exchange.PlaceBuyOrder(ctx, e.cfg.Symbol, e.cfg.Amount, e.cfg.Test); err != nil {
		return OutcomeError, &OrderError{Side: SideBuy, Err: err}
	}
	e.metrics.Order(SideBuy, e.cfg.Test)
	e.setPhase(PhaseBought)
	pos := Position{
		Amount:        e.cfg.Amount,
		EntryPrice:    price,
		PredictedHigh: pred,
		TargetPct:     e.cfg.ProfitTargetPct,
	}
	e.notify("Bought",
		fmt.Sprintf("%s %v at ~%.8g (%s)", e.cfg.Symbol, e.cfg.Amount, price, e.cfg.mode()),
		fmt.Sprintf("Predicted high: %.8g", pred),
		fmt.Sprintf("Target price: %.8g", trading.TargetPrice(price, e.cfg.ProfitTargetPct)),
	)
	if e.flag.IsSet() {
		e.abandon("cancellation requested after buy")
		return OutcomeAborted, nil
	}

	stream, err := e.exchange.SubscribeKlines(ctx, e.cfg.Symbol, e.cfg.Interval)
	if err != nil {
		e.abandon("kline subscription failed")
		return OutcomeError, fmt.Errorf("subscribe klines: %w", err)
	}
	e.setPhase(PhaseWaitingForTarget)
	return e.waitAndSell(ctx, stream, pos)
}

// ShouldBuy is the gate: the prediction must reach both the open and the
// close of the current candle.
func ShouldBuy(pred, open, closePrice float64) bool {
	return pred >= open && pred >= closePrice
}

func (e *Engine) train(ctx context.Context) (model.Predictor, error) {
	end := scheduler.FloorInterval(e.now(), e.cfg.Interval.Duration())
	start := end.Add(-e.cfg.Lookback)
	gen := backfill.New(e.exchange, backfill.Options{
		Symbol:   e.cfg.Symbol,
		Interval: e.cfg.Interval,
		Start:    start.UnixMilli(),
		End:      end.UnixMilli() - 1,
	})
	ds, err := dataset.FromCandles(closedBefore(gen.All(ctx), end.UnixMilli()))
	if err != nil {
		return nil, err
	}
	logger.Infof("[strategy] training on %d candles [%s, %s)", ds.Len(), start.Format(time.RFC3339), end.Format(time.RFC3339))
	began := time.Now()
	predictor, err := e.trainer.Train(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("train model: %w", err)
	}
	elapsed := time.Since(began)
	e.metrics.Training(elapsed.Seconds(), ds.Len())
	logger.Infof("[strategy] model trained in %s", elapsed.Round(time.Millisecond))
	e.notify("Model trained",
		fmt.Sprintf("Samples: %d", ds.Len()),
		fmt.Sprintf("Took: %s", elapsed.Round(time.Millisecond)))
	e.persist(ctx, predictor, ds.Len(), elapsed, start.UnixMilli(), end.UnixMilli()-1)
	return predictor, nil
}

// closedBefore stops the sequence at the first candle still open at cutoff.
func closedBefore(seq iter.Seq2[market.Candle, error], cutoff int64) iter.Seq2[market.Candle, error] {
	return func(yield func(market.Candle, error) bool) {
		for c, err := range seq {
			if err == nil && c.CloseTime >= cutoff {
				logger.Debugf("[strategy] candle %d closes at %d, past the training window", c.OpenTime, c.CloseTime)
				return
			}
			if !yield(c, err) {
				return
			}
		}
	}
}

func (e *Engine) currentCandle(ctx context.Context) (market.Candle, error) {
	page, err := e.exchange.GetKlines(ctx, market.KlineRequest{
		Symbol:   e.cfg.Symbol,
		Interval: e.cfg.Interval,
		Limit:    1,
	})
	if err != nil {
		return market.Candle{}, fmt.Errorf("fetch current candle: %w", err)
	}
	if len(page) == 0 {
		return market.Candle{}, errors.New("fetch current candle: empty page")
	}
	return page[len(page)-1], nil
}

type paramsReporter interface {
	ParamsJSON() ([]byte, error)
}

// persist stores the predictor when enabled. Failures only warn.
func (e *Engine) persist(ctx context.Context, p model.Predictor, samples int, elapsed time.Duration, start, end int64) {
	if !e.cfg.PersistModel || e.models == nil {
		return
	}
	pm, ok := p.(model.Persistable)
	if !ok {
		logger.Debugf("[strategy] predictor %T is not persistable", p)
		return
	}
	blob, err := pm.MarshalBinary()
	if err != nil {
		logger.Warnf("[strategy] encode model: %v", err)
		return
	}
	art := &storemodel.ModelArtifactModel{
		Symbol:      e.cfg.Symbol,
		Interval:    e.cfg.Interval.String(),
		Kind:        pm.Kind(),
		Blob:        blob,
		Samples:     samples,
		TrainMillis: elapsed.Milliseconds(),
		WindowStart: start,
		WindowEnd:   end,
	}
	if pr, ok := p.(paramsReporter); ok {
		if raw, err := pr.ParamsJSON(); err == nil {
			art.ParamsJSON = raw
		}
	}
	if err := e.models.Save(ctx, art); err != nil {
		logger.Warnf("[strategy] save model: %v", err)
		return
	}
	logger.Infof("[strategy] model %s saved (%d bytes)", art.ID, len(blob))
	if e.cfg.KeepModels > 0 {
		if n, err := e.models.Prune(ctx, e.cfg.Symbol, e.cfg.KeepModels); err != nil {
			logger.Warnf("[strategy] prune models: %v", err)
		} else if n > 0 {
			logger.Debugf("[strategy] pruned %d old models", n)
		}
	}
}

func (e *Engine) cooldown(ctx context.Context) {
	d := e.cfg.Cooldown
	if e.cfg.UntilNextCandle {
		d = scheduler.UntilNext(e.now(), e.cfg.Interval.Duration())
	}
	logger.Infof("[strategy] skip, cooling down for %s", d.Round(time.Second))
	scheduler.SleepUnless(ctx, d, e.cfg.PollInterval, e.flag.IsSet)
}

// waitAndSell consumes live events until the policy fires, the flag is set,
// ctx ends or the stream drops. The stream is always closed on return and no
// event is consumed after the first qualifying one.
func (e *Engine) waitAndSell(ctx context.Context, stream market.Stream, pos Position) (Outcome, error) {
	closed := false
	closeStream := func() {
		if closed {
			return
		}
		closed = true
		if err := stream.Close(); err != nil {
			logger.Warnf("[strategy] close stream: %v", err)
		}
	}
	defer closeStream()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			e.abandon("context cancelled while waiting for target")
			return OutcomeAborted, nil
		case <-ticker.C:
			if e.flag.IsSet() {
				e.abandon("cancellation requested while waiting for target")
				return OutcomeAborted, nil
			}
		case ev, ok := <-events:
			if !ok {
				err := stream.Err()
				if err == nil {
					err = market.ErrStreamDisconnected
				}
				logger.Warnf("[strategy] stream ended while waiting for target: %v", err)
				e.abandon(err.Error())
				return OutcomeDisconnected, nil
			}
			e.metrics.StreamEvent()
			if e.flag.IsSet() {
				e.abandon("cancellation requested while waiting for target")
				return OutcomeAborted, nil
			}
			sell, reason := e.policy.ShouldSell(pos, ev)
			if !sell {
				logger.Debugf("[strategy] %s price=%s final=%v, holding", e.cfg.Symbol, ev.Candle.Close, ev.Final)
				continue
			}
			closeStream()
			return e.sell(ctx, pos, ev, reason)
		}
	}
}

func (e *Engine) sell(ctx context.Context, pos Position, ev market.CandleEvent, reason string) (Outcome, error) {
	e.setPhase(PhaseSelling)
	price := ev.Candle.Close.InexactFloat64()
	logger.Infof("[strategy] selling %s: %s", e.cfg.Symbol, reason)
	if err := e.exchange.PlaceSellOrder(ctx, e.cfg.Symbol, pos.Amount, e.cfg.Test); err != nil {
		return OutcomeError, &OrderError{Side: SideSell, Err: err}
	}
	e.metrics.Order(SideSell, e.cfg.Test)
	profit, pct := trading.ProfitPercentage(pos.Amount, pos.EntryPrice, price)
	e.metrics.Profit(pct)
	e.notify("Sold",
		fmt.Sprintf("%s at ~%.8g (%s)", e.cfg.Symbol, price, e.cfg.mode()),
		fmt.Sprintf("Reason: %s", reason),
		fmt.Sprintf("Profit: %.8g (%.4f%%)", profit, pct),
	)
	return OutcomeSold, nil
}

func (e *Engine) abandon(reason string) {
	s := e.snapshotState()
	logger.Warnf("[strategy] abandoning open position %s entry=%.8g: %s", e.cfg.Symbol, s.EntryPrice, reason)
	e.notify("Position abandoned",
		fmt.Sprintf("%s entry %.8g", e.cfg.Symbol, s.EntryPrice),
		fmt.Sprintf("Reason: %s", reason))
}

func (e *Engine) notify(title string, lines ...string) {
	msg := notifier.StructuredMessage{
		Title:     fmt.Sprintf("[%s] %s", e.cfg.Symbol, title),
		Sections:  []notifier.MessageSection{{Lines: lines}},
		Timestamp: e.now(),
	}
	if err := e.notifier.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("[strategy] notify: %v", err)
	}
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	prev := Phase(e.phase.Swap(int32(p)))
	e.metrics.Phase(int(p))
	e.updateState(func(s *TradeState) { s.Phase = p })
	if prev == p {
		return
	}
	logger.Infof("[strategy] %s -> %s", prev, p)
	if err := e.notifier.SendText(fmt.Sprintf("[%s] %s -> %s", e.cfg.Symbol, prev, p)); err != nil {
		logger.Warnf("[strategy] notify: %v", err)
	}
}

func (e *Engine) resetState() {
	e.mu.Lock()
	e.state = TradeState{Phase: e.Phase()}
	e.updatedAt = e.now()
	e.mu.Unlock()
}

func (e *Engine) updateState(fn func(*TradeState)) {
	e.mu.Lock()
	fn(&e.state)
	e.updatedAt = e.now()
	e.mu.Unlock()
}

func (e *Engine) snapshotState() TradeState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) finishCycle(outcome Outcome, err error) {
	e.metrics.Cycle(string(outcome))
	e.mu.Lock()
	e.cycles++
	e.lastOutcome = outcome
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	e.updatedAt = e.now()
	e.mu.Unlock()
}

// Status returns a snapshot safe to call from any goroutine.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		Symbol:        e.cfg.Symbol,
		Interval:      e.cfg.Interval.String(),
		Mode:          e.cfg.mode(),
		Phase:         e.Phase().String(),
		EntryPrice:    e.state.EntryPrice,
		PredictedHigh: e.state.PredictedHigh,
		Cycles:        e.cycles,
		LastOutcome:   e.lastOutcome,
		LastError:     e.lastErr,
		Cancelled:     e.flag.IsSet(),
		UpdatedAt:     e.updatedAt,
	}
	if st.EntryPrice > 0 {
		st.TargetPrice = trading.TargetPrice(st.EntryPrice, e.state.ProfitTargetPct)
	}
	return st
}
