package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mlbot/internal/app"
	"mlbot/internal/config"
	"mlbot/internal/logger"
	"mlbot/internal/strategy"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code; resources are closed before main exits.
func run(args []string) int {
	fs := flag.NewFlagSet("mlbot", flag.ContinueOnError)
	cfgFlag := fs.String("config", "", "config file (default $MLBOT_CONFIG or configs/config.yaml)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfgPath := config.ResolvePath(*cfgFlag)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}
	logFile, err := logger.SetupFile(cfg.App.LogPath)
	if err != nil {
		log.Printf("open log file: %v", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetVerbose(cfg.Verbose, cfg.App.LogLevel)
	logger.Infof("config loaded from %s (env=%s, symbol=%s, mode=%s)", cfgPath, cfg.App.Env, cfg.Symbol, cfg.Trade.Mode())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flagSet := &strategy.CancelFlag{}
	go handleSignals(ctx, flagSet, cancel)

	a, err := app.NewApp(ctx, cfg, app.WithConfigPath(cfgPath), app.WithCancelFlag(flagSet))
	if err != nil {
		logger.Errorf("init app: %v", err)
		return 1
	}
	defer a.Close()
	if err := a.Run(ctx); err != nil {
		logger.Errorf("bot stopped with error: %v", err)
		return 1
	}
	logger.Infof("bot stopped")
	return 0
}

// handleSignals sets the cancel flag on the first interrupt so the engine can
// stop at its next safe point; a second interrupt aborts immediately.
func handleSignals(ctx context.Context, flagSet *strategy.CancelFlag, cancel context.CancelFunc) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	select {
	case <-sig:
	case <-ctx.Done():
		return
	}
	logger.Warnf("interrupt received, stopping at the next safe point (interrupt again to force)")
	flagSet.Set()
	select {
	case <-sig:
	case <-ctx.Done():
		return
	}
	logger.Warnf("second interrupt, cancelling")
	cancel()
}
