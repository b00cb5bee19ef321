package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mlbot/internal/config"
	"mlbot/internal/logger"
	"mlbot/internal/model"
	"mlbot/internal/model/offline"
	"mlbot/internal/store/archive"
	"mlbot/internal/store/sqlite"

	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code; resources are closed before main exits.
func run(args []string) int {
	fs := flag.NewFlagSet("trainer", flag.ContinueOnError)
	cfgFlag := fs.String("config", "", "config file (default $MLBOT_CONFIG or configs/config.yaml)")
	csvFlag := fs.String("csv", "", "candle dump to train from (default dataset.csv_path)")
	chart := fs.String("chart", "", "write an HTML chart of the test split to this path")
	noSave := fs.Bool("no-save", false, "do not store the trained model")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(config.ResolvePath(*cfgFlag))
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}
	logger.SetVerbose(cfg.Verbose, cfg.App.LogLevel)

	csvPath := strings.TrimSpace(*csvFlag)
	if csvPath == "" {
		csvPath = cfg.Dataset.CSVPath
	}
	opts := offline.Options{
		Symbol:     cfg.Symbol,
		Interval:   cfg.Interval(),
		CSVPath:    csvPath,
		Params:     cfg.Model.Params(),
		TrainRatio: cfg.Dataset.TrainRatio,
		Tolerance:  cfg.Dataset.Fluctuation,
		Keep:       cfg.Model.Keep,
		ChartPath:  strings.TrimSpace(*chart),
	}
	if cfg.Dataset.ArchiveDir != "" {
		if _, err := os.Stat(cfg.Dataset.ArchiveDir); err == nil {
			arch, err := archive.NewStore(cfg.Dataset.ArchiveDir)
			if err != nil {
				log.Printf("open archive: %v", err)
				return 1
			}
			defer arch.Close()
			opts.Archive = arch
		}
	}
	if !*noSave && cfg.Model.StorePath != "" {
		st, err := sqlite.NewSqliteStore(cfg.Model.StorePath)
		if err != nil {
			log.Printf("open model store: %v", err)
			return 1
		}
		defer st.Close()
		opts.Models = st.Models()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := offline.Run(ctx, opts)
	if err != nil {
		logger.Errorf("training failed: %v", err)
		return 1
	}
	printReport(os.Stdout, rep, opts.Tolerance)
	return 0
}

func printReport(w io.Writer, rep offline.Report, tolerance float64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s %s model (tolerance %.2f)", rep.Symbol, rep.Interval, tolerance))
	t.AppendHeader(table.Row{"Split", "Rows", "Hits", "Accuracy %", "MAE"})
	t.AppendRow(accuracyRow("train", rep.Train))
	t.AppendRow(accuracyRow("test", rep.Test))
	if b := rep.Baseline; b != nil {
		t.AppendRow(accuracyRow(fmt.Sprintf("previous %s", shortID(b.ID)), b.Accuracy))
	}
	t.AppendFooter(table.Row{"source", rep.Source, "fit", rep.Took.Round(time.Millisecond), shortID(rep.ModelID)})
	t.SetStyle(table.StyleLight)
	t.Render()
	if b := rep.Baseline; b != nil {
		logger.Infof("previous model trained %s with num_iterations=%d learning_rate=%g",
			b.TrainedAt.Format(time.RFC3339), b.NumIterations, b.LearningRate)
	}
	if rep.ChartPath != "" {
		logger.Infof("chart written to %s", rep.ChartPath)
	}
}

func accuracyRow(name string, acc model.Accuracy) table.Row {
	return table.Row{name, acc.Total, acc.Hits, fmt.Sprintf("%.2f", acc.Percent), fmt.Sprintf("%.4f", acc.MAE)}
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
