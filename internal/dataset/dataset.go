// Package dataset turns candles into the feature/label matrix the model
// trains on: one feature (the candle open) and the candle high as label.
package dataset

import (
	"errors"
	"fmt"
	"iter"

	"mlbot/internal/market"
)

// ErrEmptyDataset is returned when a dataset would have no rows.
var ErrEmptyDataset = errors.New("dataset is empty")

// Dataset holds index-aligned rows. It is not modified after construction.
type Dataset struct {
	Features [][]float64
	Labels   []float64
}

func (d Dataset) Len() int { return len(d.Labels) }

// FromCandles drains seq in order. A sequence error aborts the build.
func FromCandles(seq iter.Seq2[market.Candle, error]) (Dataset, error) {
	var ds Dataset
	for c, err := range seq {
		if err != nil {
			return Dataset{}, fmt.Errorf("build dataset: %w", err)
		}
		ds.append(c)
	}
	if ds.Len() == 0 {
		return Dataset{}, ErrEmptyDataset
	}
	return ds, nil
}

func FromSlice(candles []market.Candle) (Dataset, error) {
	if len(candles) == 0 {
		return Dataset{}, ErrEmptyDataset
	}
	ds := Dataset{
		Features: make([][]float64, 0, len(candles)),
		Labels:   make([]float64, 0, len(candles)),
	}
	for _, c := range candles {
		ds.append(c)
	}
	return ds, nil
}

func (d *Dataset) append(c market.Candle) {
	d.Features = append(d.Features, Features(c))
	d.Labels = append(d.Labels, c.High.InexactFloat64())
}

// Features is the model input row for a candle.
func Features(c market.Candle) []float64 {
	return []float64{c.Open.InexactFloat64()}
}

// Split returns the first ratio share of rows as train and the rest as test.
// Both halves keep at least one row.
func (d Dataset) Split(ratio float64) (train, test Dataset, err error) {
	n := d.Len()
	if n < 2 {
		return Dataset{}, Dataset{}, fmt.Errorf("split needs at least 2 rows, have %d", n)
	}
	if ratio <= 0 || ratio >= 1 {
		return Dataset{}, Dataset{}, fmt.Errorf("split ratio %v outside (0,1)", ratio)
	}
	cut := int(float64(n) * ratio)
	if cut < 1 {
		cut = 1
	}
	if cut > n-1 {
		cut = n - 1
	}
	train = Dataset{Features: d.Features[:cut:cut], Labels: d.Labels[:cut:cut]}
	test = Dataset{Features: d.Features[cut:], Labels: d.Labels[cut:]}
	return train, test, nil
}

// Tail keeps the last n rows, or everything when n is not positive.
func (d Dataset) Tail(n int) Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	off := d.Len() - n
	return Dataset{Features: d.Features[off:], Labels: d.Labels[off:]}
}
