package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mlbot/internal/config"
	"mlbot/internal/gateway/binance"
	"mlbot/internal/gateway/notifier"
	"mlbot/internal/logger"
	"mlbot/internal/market"
	"mlbot/internal/metrics"
	"mlbot/internal/model/gbdt"
	"mlbot/internal/pkg/circuit"
	"mlbot/internal/store"
	"mlbot/internal/store/sqlite"
	"mlbot/internal/strategy"
	statushttp "mlbot/internal/transport/http/status"
)

const (
	notifyBreakerThreshold = 5
	notifyBreakerTimeout   = 2 * time.Minute
)

type AppBuilder struct {
	cfg        *config.Config
	configPath string

	exchangeFn func(config.BinanceConfig) (market.Exchange, error)
	storeFn    func(path string) (store.Store, error)
	telegramFn func(config.TelegramConfig) (*notifier.Telegram, error)

	exchangeOverride market.Exchange
	storeOverride    store.Store
	flag             *strategy.CancelFlag
	now              func() time.Time
	disableHTTP      bool
}

type AppBuilderOption func(*AppBuilder)

// Options is the option list handed to the wire injector.
type Options []AppBuilderOption

func WithExchange(ex market.Exchange) AppBuilderOption {
	return func(b *AppBuilder) { b.exchangeOverride = ex }
}

func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = st }
}

// WithConfigPath enables hot reload of the log level from path.
func WithConfigPath(path string) AppBuilderOption {
	return func(b *AppBuilder) { b.configPath = strings.TrimSpace(path) }
}

func WithCancelFlag(flag *strategy.CancelFlag) AppBuilderOption {
	return func(b *AppBuilder) { b.flag = flag }
}

func WithClock(now func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) { b.now = now }
}

// WithoutStatusHTTP skips the status server, e.g. when the port is taken.
func WithoutStatusHTTP() AppBuilderOption {
	return func(b *AppBuilder) { b.disableHTTP = true }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		exchangeFn: buildExchange,
		storeFn:    openModelStore,
		telegramFn: buildTelegram,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetVerbose(cfg.Verbose, cfg.App.LogLevel)

	exchange := b.exchangeOverride
	if exchange == nil {
		ex, err := b.exchangeFn(cfg.Binance)
		if err != nil {
			return nil, fmt.Errorf("init binance client: %w", err)
		}
		exchange = ex
	}

	st, err := b.resolveStore(cfg.Model)
	if err != nil {
		return nil, err
	}
	var models store.ModelRepository
	if st != nil {
		models = st.Models()
	}

	tg, err := b.telegramFn(cfg.Notify.Telegram)
	if err != nil {
		closeStore(st)
		return nil, fmt.Errorf("init telegram: %w", err)
	}
	sinks := notifier.Multi{notifier.Log{Prefix: "[notify]"}}
	if tg != nil {
		sinks = append(sinks, tg)
	}
	breaker := circuit.NewCircuitBreaker("notify", notifyBreakerThreshold, notifyBreakerTimeout)
	queue := notifier.NewQueue(sinks, cfg.Notify.QueueSize, breaker)

	policy, err := strategy.NewSellPolicy(cfg.Trade.SellPolicy, cfg.Trade.SellAtCloseFallback)
	if err != nil {
		closeStore(st)
		return nil, err
	}
	trainer, err := gbdt.NewTrainer(cfg.Model.Params())
	if err != nil {
		closeStore(st)
		return nil, err
	}

	flag := b.flag
	if flag == nil {
		flag = &strategy.CancelFlag{}
	}
	rec := metrics.New()
	engine, err := strategy.NewEngine(strategy.Params{
		Config:   engineConfig(cfg),
		Exchange: exchange,
		Trainer:  trainer,
		Policy:   policy,
		Flag:     flag,
		Notifier: queue,
		Models:   models,
		Metrics:  rec,
		Now:      b.now,
	})
	if err != nil {
		closeStore(st)
		return nil, err
	}

	var server *statushttp.Server
	if !b.disableHTTP {
		server, err = statushttp.NewServer(statushttp.ServerConfig{
			Addr:    cfg.App.HTTPAddr,
			Symbol:  cfg.Symbol,
			Status:  engine.Status,
			Models:  models,
			Metrics: rec.Handler(),
		})
		if err != nil {
			closeStore(st)
			return nil, err
		}
	}

	return &App{
		cfg:        cfg,
		configPath: b.configPath,
		engine:     engine,
		queue:      queue,
		telegram:   tg,
		statusHTTP: server,
		store:      st,
		flag:       flag,
		metrics:    rec,
		Summary:    newStartupSummary(cfg, policy, server),
	}, nil
}

func (b *AppBuilder) resolveStore(mc config.ModelConfig) (store.Store, error) {
	if b.storeOverride != nil {
		return b.storeOverride, nil
	}
	if !mc.Persist {
		return nil, nil
	}
	st, err := b.storeFn(mc.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open model store %s: %w", mc.StorePath, err)
	}
	return st, nil
}

func engineConfig(cfg *config.Config) strategy.Config {
	return strategy.Config{
		Symbol:          cfg.Symbol,
		Interval:        cfg.Interval(),
		Amount:          cfg.Trade.Amount,
		Test:            cfg.Trade.Test,
		ProfitTargetPct: cfg.Trade.ProfitPercentage,
		Lookback:        cfg.Binance.Lookback(),
		Cooldown:        cfg.Trade.Cooldown,
		UntilNextCandle: cfg.Trade.UntilNextCandle,
		PollInterval:    cfg.Trade.CancelPollInterval,
		ErrorBackoff:    cfg.Trade.ErrorBackoff,
		PersistModel:    cfg.Model.Persist,
		KeepModels:      cfg.Model.Keep,
	}
}

func buildExchange(bc config.BinanceConfig) (market.Exchange, error) {
	return binance.New(binance.Config{
		APIKey:            bc.APIKey,
		APISecret:         bc.APISecret,
		RESTBaseURL:       bc.RESTBaseURL,
		Testnet:           bc.Testnet,
		HTTPTimeout:       bc.HTTPTimeout,
		RequestsPerSecond: bc.RequestsPerSecond,
		ProxyURL:          bc.ProxyURL,
	})
}

func openModelStore(path string) (store.Store, error) {
	return sqlite.NewSqliteStore(path)
}

func buildTelegram(tc config.TelegramConfig) (*notifier.Telegram, error) {
	if !tc.Enabled {
		return nil, nil
	}
	return notifier.NewTelegram(tc.BotToken, tc.ChatID)
}

func closeStore(st store.Store) {
	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		logger.Warnf("close model store: %v", err)
	}
}
