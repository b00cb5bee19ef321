// Package offline trains and scores a model from a candle dump, outside the
// live bot.
package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mlbot/internal/analysis/visual"
	"mlbot/internal/dataset"
	"mlbot/internal/logger"
	"mlbot/internal/market"
	"mlbot/internal/market/backfill"
	"mlbot/internal/model"
	"mlbot/internal/model/gbdt"
	"mlbot/internal/store"
	"mlbot/internal/store/archive"
	storemodel "mlbot/internal/store/model"

	"github.com/tidwall/gjson"
)

// DefaultTolerance is the absolute price distance that counts as a hit.
const DefaultTolerance = 50

type Options struct {
	Symbol     string
	Interval   market.Interval
	CSVPath    string
	Archive    *archive.Store
	Params     gbdt.Params
	TrainRatio float64
	Tolerance  float64
	Models     store.ModelRepository
	Keep       int
	ChartPath  string
}

// Baseline is the previously stored model scored on the same test split.
type Baseline struct {
	ID            string
	TrainedAt     time.Time
	NumIterations int64
	LearningRate  float64
	Accuracy      model.Accuracy
}

type Report struct {
	Symbol    string
	Interval  string
	Source    string
	Rows      int
	TrainRows int
	TestRows  int
	Train     model.Accuracy
	Test      model.Accuracy
	Took      time.Duration
	ModelID   string
	Baseline  *Baseline
	ChartPath string
}

// Run loads candles, fits on the leading share, scores both splits, compares
// against the last stored model and optionally stores the new one.
func Run(ctx context.Context, opts Options) (Report, error) {
	if opts.TrainRatio == 0 {
		opts.TrainRatio = 0.8
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	candles, source, err := loadCandles(ctx, &opts)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Symbol: opts.Symbol, Interval: opts.Interval.String(), Source: source, Rows: len(candles)}

	ds, err := dataset.FromSlice(candles)
	if err != nil {
		return rep, err
	}
	train, test, err := ds.Split(opts.TrainRatio)
	if err != nil {
		return rep, err
	}
	rep.TrainRows, rep.TestRows = train.Len(), test.Len()

	trainer, err := gbdt.NewTrainer(opts.Params)
	if err != nil {
		return rep, err
	}
	started := time.Now()
	m, err := trainer.Fit(ctx, train)
	if err != nil {
		return rep, fmt.Errorf("fit: %w", err)
	}
	rep.Took = time.Since(started)
	logger.Infof("[trainer] fitted %d trees on %d rows in %s", len(m.Trees), train.Len(), rep.Took.Round(time.Millisecond))

	if rep.Train, err = model.Evaluate(m, train, opts.Tolerance); err != nil {
		return rep, err
	}
	if rep.Test, err = model.Evaluate(m, test, opts.Tolerance); err != nil {
		return rep, err
	}

	if opts.Models != nil {
		rep.Baseline = baseline(ctx, opts, test)
		id, err := save(ctx, opts, m, train.Len(), rep.Took, candles[0].OpenTime, candles[train.Len()-1].OpenTime)
		if err != nil {
			return rep, err
		}
		rep.ModelID = id
	}

	if opts.ChartPath != "" {
		testCandles := candles[train.Len():]
		if err := renderChart(opts, m, testCandles, test); err != nil {
			return rep, err
		}
		rep.ChartPath = opts.ChartPath
	}
	return rep, nil
}

func loadCandles(ctx context.Context, opts *Options) ([]market.Candle, string, error) {
	if opts.CSVPath != "" {
		if _, err := os.Stat(opts.CSVPath); err == nil {
			applyManifest(opts)
			f, err := os.Open(opts.CSVPath)
			if err != nil {
				return nil, "", err
			}
			defer f.Close()
			candles, err := dataset.ReadCandlesCSV(f)
			if err != nil {
				return nil, "", err
			}
			return candles, opts.CSVPath, nil
		} else if opts.Archive == nil {
			return nil, "", fmt.Errorf("read dataset: %w", err)
		}
	}
	if opts.Archive == nil {
		return nil, "", errors.New("no csv path or archive to train from")
	}
	candles, err := backfill.Collect(ctx, opts.Archive.Source(), backfill.Options{
		Symbol:   opts.Symbol,
		Interval: opts.Interval,
	})
	if err != nil {
		return nil, "", fmt.Errorf("read archive: %w", err)
	}
	return candles, "archive", nil
}

// applyManifest takes symbol and interval from the dump sidecar; a mismatch
// with the configured pair is only logged.
func applyManifest(opts *Options) {
	m, err := dataset.ReadManifest(dataset.ManifestPath(opts.CSVPath))
	if err != nil {
		logger.Debugf("[trainer] no manifest for %s: %v", opts.CSVPath, err)
		return
	}
	if opts.Symbol != "" && m.Symbol != "" && !strings.EqualFold(opts.Symbol, m.Symbol) {
		logger.Warnf("[trainer] %s holds %s, configured symbol is %s", opts.CSVPath, m.Symbol, opts.Symbol)
	}
	if m.Symbol != "" {
		opts.Symbol = m.Symbol
	}
	if iv, err := market.ParseInterval(m.Interval); err == nil {
		opts.Interval = iv
	}
}

func baseline(ctx context.Context, opts Options, test dataset.Dataset) *Baseline {
	art, err := opts.Models.Latest(ctx, opts.Symbol, opts.Interval.String())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warnf("[trainer] load previous model: %v", err)
		}
		return nil
	}
	if art.Kind != gbdt.Kind {
		logger.Debugf("[trainer] previous model %s is %q, skipping comparison", art.ID, art.Kind)
		return nil
	}
	prev, err := gbdt.Load(art.Blob)
	if err != nil {
		logger.Warnf("[trainer] previous model %s unreadable: %v", art.ID, err)
		return nil
	}
	acc, err := model.Evaluate(prev, test, opts.Tolerance)
	if err != nil {
		logger.Warnf("[trainer] score previous model: %v", err)
		return nil
	}
	b := &Baseline{ID: art.ID, TrainedAt: art.TrainedAt, Accuracy: acc}
	if raw := art.ParamsJSON; len(raw) > 0 && gjson.ValidBytes(raw) {
		b.NumIterations = gjson.GetBytes(raw, "num_iterations").Int()
		b.LearningRate = gjson.GetBytes(raw, "learning_rate").Float()
	}
	return b
}

func save(ctx context.Context, opts Options, m *gbdt.Model, samples int, took time.Duration, start, end int64) (string, error) {
	blob, err := m.MarshalBinary()
	if err != nil {
		return "", err
	}
	params, err := m.ParamsJSON()
	if err != nil {
		return "", err
	}
	art := &storemodel.ModelArtifactModel{
		Symbol:      opts.Symbol,
		Interval:    opts.Interval.String(),
		Kind:        m.Kind(),
		ParamsJSON:  params,
		Blob:        blob,
		Samples:     samples,
		TrainMillis: took.Milliseconds(),
		WindowStart: start,
		WindowEnd:   end,
	}
	if err := opts.Models.Save(ctx, art); err != nil {
		return "", fmt.Errorf("save model: %w", err)
	}
	if opts.Keep > 0 {
		if _, err := opts.Models.Prune(ctx, opts.Symbol, opts.Keep); err != nil {
			logger.Warnf("[trainer] prune models: %v", err)
		}
	}
	return art.ID, nil
}

func renderChart(opts Options, m model.Predictor, candles []market.Candle, test dataset.Dataset) error {
	preds, err := m.Predict(test.Features)
	if err != nil {
		return err
	}
	times := make([]int64, len(candles))
	for i, c := range candles {
		times[i] = c.OpenTime
	}
	if dir := filepath.Dir(opts.ChartPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(opts.ChartPath)
	if err != nil {
		return err
	}
	if err := writeChart(f, opts, times, test.Labels, preds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeChart(w io.Writer, opts Options, times []int64, actual, preds []float64) error {
	return visual.RenderPrediction(w, visual.PredictionInput{
		Symbol:    opts.Symbol,
		Interval:  opts.Interval.String(),
		OpenTimes: times,
		Actual:    actual,
		Predicted: preds,
		Subtitle:  fmt.Sprintf("test split, tolerance %.2f", opts.Tolerance),
	})
}
