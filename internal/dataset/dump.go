package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mlbot/internal/logger"
	"mlbot/internal/market"
	"mlbot/internal/market/backfill"
	"mlbot/internal/scheduler"
	"mlbot/internal/store/archive"
)

const archiveBatch = 1000

// DumpOptions configure a full history dump. With an Archive the exchange is
// only asked for candles after the archive's newest row and the CSV is then
// exported from the archive.
type DumpOptions struct {
	Symbol     string
	Interval   market.Interval
	CSVPath    string
	Archive    *archive.Store
	End        int64
	MaxCandles int
	Now        func() time.Time
}

type DumpResult struct {
	Fetched  int
	Archived int
	Manifest Manifest
}

// Dump backfills the symbol from its first candle, or from where the archive
// stops, and writes the CSV plus its manifest sidecar.
func Dump(ctx context.Context, src market.KlineSource, opts DumpOptions) (DumpResult, error) {
	if src == nil {
		return DumpResult{}, errors.New("dump: nil kline source")
	}
	if !opts.Interval.Valid() {
		return DumpResult{}, fmt.Errorf("dump: unsupported interval %q", opts.Interval)
	}
	if opts.CSVPath == "" {
		return DumpResult{}, errors.New("dump: csv path is required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	end := opts.End
	if end <= 0 {
		// last closed candle only
		end = now().UTC().Truncate(opts.Interval.Duration()).UnixMilli() - 1
	}

	var res DumpResult
	exportSrc := src
	if opts.Archive != nil {
		start, err := opts.Archive.ResumeFrom(ctx, opts.Symbol, opts.Interval)
		if err != nil {
			return res, fmt.Errorf("dump: resume point: %w", err)
		}
		if start > 0 {
			logger.Infof("[dataset] resuming %s %s from %s", opts.Symbol, opts.Interval, time.UnixMilli(start).UTC().Format(time.RFC3339))
		}
		fetched, archived, err := fillArchive(ctx, src, opts, start, end)
		res.Fetched, res.Archived = fetched, archived
		if err != nil {
			return res, err
		}
		exportSrc = opts.Archive.Source()
	}

	m, fetched, err := exportCSV(ctx, exportSrc, opts, end)
	if opts.Archive == nil {
		res.Fetched = fetched
	}
	if err != nil {
		return res, err
	}
	if opts.Archive != nil {
		if am, err := opts.Archive.Manifest(ctx, opts.Symbol, opts.Interval); err == nil {
			m.Archive = am.Path
		}
	}
	m.GeneratedAt = now().UTC()
	if err := WriteManifest(ManifestPath(opts.CSVPath), m); err != nil {
		return res, err
	}
	res.Manifest = m
	return res, nil
}

func fillArchive(ctx context.Context, src market.KlineSource, opts DumpOptions, start, end int64) (fetched, archived int, err error) {
	gen := backfill.New(src, backfill.Options{
		Symbol:     opts.Symbol,
		Interval:   opts.Interval,
		Start:      start,
		End:        end,
		MaxCandles: opts.MaxCandles,
	})
	batch := make([]market.Candle, 0, archiveBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := opts.Archive.InsertCandles(ctx, opts.Symbol, opts.Interval, batch)
		if err != nil {
			return fmt.Errorf("dump: archive insert: %w", err)
		}
		archived += n
		logger.Infof("[dataset] archived %d candles up to %s (pages=%d)", archived, batch[len(batch)-1].OpenAt().Format(time.RFC3339), gen.Pages())
		batch = batch[:0]
		return nil
	}
	for gen.Next(ctx) {
		batch = append(batch, gen.Candle())
		fetched++
		if len(batch) == archiveBatch {
			if err := flush(); err != nil {
				return fetched, archived, err
			}
		}
	}
	// an explicit End can reach into the candle that is still forming
	batch = scheduler.DropUnclosedBinanceKline(batch, opts.Interval.Duration())
	if err := flush(); err != nil {
		return fetched, archived, err
	}
	return fetched, archived, gen.Err()
}

func exportCSV(ctx context.Context, src market.KlineSource, opts DumpOptions, end int64) (Manifest, int, error) {
	m := Manifest{Symbol: opts.Symbol, Interval: opts.Interval.String()}
	if dir := filepath.Dir(opts.CSVPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return m, 0, err
		}
	}
	// write to a temp file so a failed dump keeps the previous CSV
	tmp := opts.CSVPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return m, 0, err
	}
	defer os.Remove(tmp)

	cw, err := NewCSVWriter(f, opts.Symbol)
	if err != nil {
		f.Close()
		return m, 0, err
	}
	maxCandles := opts.MaxCandles
	if opts.Archive != nil {
		maxCandles = 0
	}
	gen := backfill.New(src, backfill.Options{
		Symbol:     opts.Symbol,
		Interval:   opts.Interval,
		End:        end,
		MaxCandles: maxCandles,
	})
	for gen.Next(ctx) {
		c := gen.Candle()
		if err := cw.Write(c); err != nil {
			f.Close()
			return m, cw.Rows(), err
		}
		if m.Rows == 0 {
			m.FirstOpen = c.OpenTime
		}
		m.Rows++
		m.LastOpen = c.OpenTime
		if opts.Archive == nil && gen.Yielded()%archiveBatch == 0 {
			logger.Infof("[dataset] fetched %d candles up to %s (pages=%d)", m.Rows, c.OpenAt().Format(time.RFC3339), gen.Pages())
		}
	}
	m.Pages = gen.Pages()
	if err := gen.Err(); err != nil {
		f.Close()
		return m, m.Rows, err
	}
	if err := cw.Flush(); err != nil {
		f.Close()
		return m, m.Rows, err
	}
	if err := f.Close(); err != nil {
		return m, m.Rows, err
	}
	if m.Rows == 0 {
		return m, 0, ErrEmptyDataset
	}
	if err := os.Rename(tmp, opts.CSVPath); err != nil {
		return m, m.Rows, err
	}
	return m, m.Rows, nil
}

// LoadCSV reads a dump written by Dump.
func LoadCSV(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer f.Close()
	return ReadCSV(f)
}
