package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mlbot/internal/market"
)

// CSVHeader is the column layout of candle dumps.
var CSVHeader = []string{
	"open_time", "close_time", "symbol", "open", "high", "low", "close", "volume", "quote_asset_volume",
}

const (
	colOpenTime = iota
	colCloseTime
	colSymbol
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colQuoteVolume
)

// CSVWriter appends candle rows, writing the header first.
type CSVWriter struct {
	w      *csv.Writer
	symbol string
	rows   int
}

func NewCSVWriter(w io.Writer, symbol string) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w), symbol: symbol}
	if err := cw.w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

func (cw *CSVWriter) Write(c market.Candle) error {
	rec := []string{
		strconv.FormatInt(c.OpenTime, 10),
		strconv.FormatInt(c.CloseTime, 10),
		cw.symbol,
		c.Open.String(),
		c.High.String(),
		c.Low.String(),
		c.Close.String(),
		c.Volume.String(),
		c.QuoteVolume.String(),
	}
	if err := cw.w.Write(rec); err != nil {
		return fmt.Errorf("write csv row %d: %w", cw.rows+1, err)
	}
	cw.rows++
	return nil
}

// Flush pushes buffered rows to the underlying writer.
func (cw *CSVWriter) Flush() error {
	cw.w.Flush()
	return cw.w.Error()
}

func (cw *CSVWriter) Rows() int { return cw.rows }

// WriteCSV writes a complete dump of candles.
func WriteCSV(w io.Writer, symbol string, candles []market.Candle) error {
	cw, err := NewCSVWriter(w, symbol)
	if err != nil {
		return err
	}
	for _, c := range candles {
		if err := cw.Write(c); err != nil {
			return err
		}
	}
	return cw.Flush()
}

// ReadCandlesCSV parses a dump back into candles.
func ReadCandlesCSV(r io.Reader) ([]market.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)
	cr.ReuseRecord = true
	var out []market.Candle
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++
		if line == 1 && strings.EqualFold(rec[0], CSVHeader[0]) {
			continue
		}
		c, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadCSV loads a dataset from a candle dump: open is the feature and high
// the label.
func ReadCSV(r io.Reader) (Dataset, error) {
	candles, err := ReadCandlesCSV(r)
	if err != nil {
		return Dataset{}, err
	}
	return FromSlice(candles)
}

func parseRecord(rec []string) (market.Candle, error) {
	var c market.Candle
	var err error
	if c.OpenTime, err = strconv.ParseInt(rec[colOpenTime], 10, 64); err != nil {
		return c, fmt.Errorf("open_time: %w", err)
	}
	if c.CloseTime, err = strconv.ParseInt(rec[colCloseTime], 10, 64); err != nil {
		return c, fmt.Errorf("close_time: %w", err)
	}
	if c.Open, err = market.ParseDecimal(rec[colOpen]); err != nil {
		return c, fmt.Errorf("open: %w", err)
	}
	if c.High, err = market.ParseDecimal(rec[colHigh]); err != nil {
		return c, fmt.Errorf("high: %w", err)
	}
	if c.Low, err = market.ParseDecimal(rec[colLow]); err != nil {
		return c, fmt.Errorf("low: %w", err)
	}
	if c.Close, err = market.ParseDecimal(rec[colClose]); err != nil {
		return c, fmt.Errorf("close: %w", err)
	}
	if c.Volume, err = market.ParseDecimal(rec[colVolume]); err != nil {
		return c, fmt.Errorf("volume: %w", err)
	}
	if c.QuoteVolume, err = market.ParseDecimal(rec[colQuoteVolume]); err != nil {
		return c, fmt.Errorf("quote_asset_volume: %w", err)
	}
	return c, nil
}
