package app

import (
	"context"
	"fmt"
	"os"

	"mlbot/internal/config"
	"mlbot/internal/gateway/notifier"
	"mlbot/internal/logger"
	"mlbot/internal/metrics"
	"mlbot/internal/store"
	"mlbot/internal/strategy"
	statushttp "mlbot/internal/transport/http/status"

	"golang.org/x/sync/errgroup"
)

// App owns the engine and its side services for one process.
type App struct {
	cfg        *config.Config
	configPath string
	engine     *strategy.Engine
	queue      *notifier.Queue
	telegram   *notifier.Telegram
	statusHTTP *statushttp.Server
	store      store.Store
	flag       *strategy.CancelFlag
	metrics    *metrics.Recorder
	Summary    *StartupSummary
}

// NewApp builds the application from cfg without starting anything.
func NewApp(ctx context.Context, cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(ctx, cfg, Options(opts))
}

// Run blocks until the engine stops. Side services share a context that is
// cancelled as soon as the engine returns, so a set cancel flag shuts the
// whole process down after the engine reaches a safe point.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Render(os.Stdout)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(runCtx)

	if a.queue != nil {
		group.Go(func() error {
			return a.queue.Run(gctx)
		})
	}
	if a.statusHTTP != nil {
		group.Go(func() error {
			if err := a.statusHTTP.Start(gctx); err != nil {
				return fmt.Errorf("status http server error: %w", err)
			}
			return nil
		})
	}
	if a.telegram != nil {
		group.Go(func() error {
			return a.telegram.Listen(gctx, func() string {
				return a.engine.Status().Text()
			})
		})
	}
	if a.configPath != "" {
		group.Go(func() error {
			if err := config.Watch(gctx, a.configPath, config.ApplyLogLevel); err != nil {
				logger.Warnf("[config] hot reload disabled: %v", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		defer cancel()
		return a.engine.Run(gctx)
	})
	return group.Wait()
}

// Flag is the cancel flag the interrupt handler sets.
func (a *App) Flag() *strategy.CancelFlag {
	if a == nil {
		return nil
	}
	return a.flag
}

// Engine exposes the trading engine (status probes, tests).
func (a *App) Engine() *strategy.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}
