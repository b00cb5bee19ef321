package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mlbot/internal/config"
	"mlbot/internal/dataset"
	"mlbot/internal/gateway/binance"
	"mlbot/internal/logger"
	"mlbot/internal/store/archive"

	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code; resources are closed before main exits.
func run(args []string) int {
	fs := flag.NewFlagSet("dataset", flag.ContinueOnError)
	cfgFlag := fs.String("config", "", "config file (default $MLBOT_CONFIG or configs/config.yaml)")
	out := fs.String("out", "", "CSV output path (default dataset.csv_path)")
	noArchive := fs.Bool("no-archive", false, "fetch everything from the exchange without the local archive")
	limit := fs.Int("limit", 0, "stop after this many candles (0 = full history)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfgPath := config.ResolvePath(*cfgFlag)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}
	logger.SetVerbose(cfg.Verbose, cfg.App.LogLevel)

	csvPath := strings.TrimSpace(*out)
	if csvPath == "" {
		csvPath = cfg.Dataset.CSVPath
	}

	client, err := binance.New(binance.Config{
		APIKey:            cfg.Binance.APIKey,
		APISecret:         cfg.Binance.APISecret,
		RESTBaseURL:       cfg.Binance.RESTBaseURL,
		Testnet:           cfg.Binance.Testnet,
		HTTPTimeout:       cfg.Binance.HTTPTimeout,
		RequestsPerSecond: cfg.Binance.RequestsPerSecond,
		ProxyURL:          cfg.Binance.ProxyURL,
	})
	if err != nil {
		log.Printf("init binance client: %v", err)
		return 1
	}

	var store *archive.Store
	if !*noArchive && cfg.Dataset.ArchiveDir != "" {
		store, err = archive.NewStore(cfg.Dataset.ArchiveDir)
		if err != nil {
			log.Printf("open archive: %v", err)
			return 1
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	logger.Infof("dumping %s %s into %s", cfg.Symbol, cfg.Interval(), csvPath)
	res, err := dataset.Dump(ctx, client, dataset.DumpOptions{
		Symbol:     cfg.Symbol,
		Interval:   cfg.Interval(),
		CSVPath:    csvPath,
		Archive:    store,
		MaxCandles: *limit,
	})
	if err != nil {
		logger.Errorf("dump failed after %d candles: %v", res.Fetched, err)
		return 1
	}
	printResult(os.Stdout, csvPath, res, time.Since(started))
	return 0
}

func printResult(w io.Writer, csvPath string, res dataset.DumpResult, took time.Duration) {
	m := res.Manifest
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("dataset dump")
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Symbol", m.Symbol},
		{"Interval", m.Interval},
		{"CSV", csvPath},
		{"Manifest", dataset.ManifestPath(csvPath)},
		{"Rows", m.Rows},
		{"First candle", formatMillis(m.FirstOpen)},
		{"Last candle", formatMillis(m.LastOpen)},
		{"Fetched", res.Fetched},
		{"Archived", res.Archived},
		{"Archive", orDash(m.Archive)},
		{"Took", took.Round(time.Millisecond)},
	})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
