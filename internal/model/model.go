// Package model defines the train/predict ports the strategy depends on.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"mlbot/internal/dataset"
)

// Trainer fits a fresh predictor on a dataset. Implementations must not keep
// state between calls.
type Trainer interface {
	Train(ctx context.Context, ds dataset.Dataset) (Predictor, error)
}

// Predictor maps feature rows to one prediction per row.
type Predictor interface {
	Predict(features [][]float64) ([]float64, error)
}

// Persistable predictors can be stored as an opaque blob.
type Persistable interface {
	Predictor
	Kind() string
	MarshalBinary() ([]byte, error)
}

// ErrNoPrediction is returned when a predictor yields no value for a row.
var ErrNoPrediction = errors.New("predictor returned no value")

// PredictOne runs a single feature row through p.
func PredictOne(p Predictor, row []float64) (float64, error) {
	out, err := p.Predict([][]float64{row})
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, ErrNoPrediction
	}
	if math.IsNaN(out[0]) || math.IsInf(out[0], 0) {
		return 0, fmt.Errorf("predictor returned %v", out[0])
	}
	return out[0], nil
}

// Accuracy counts predictions within tolerance of the label.
type Accuracy struct {
	Hits    int
	Total   int
	Percent float64
	MAE     float64
}

// Evaluate scores p on ds. A prediction hits when |pred-label| <= tolerance.
func Evaluate(p Predictor, ds dataset.Dataset, tolerance float64) (Accuracy, error) {
	if ds.Len() == 0 {
		return Accuracy{}, dataset.ErrEmptyDataset
	}
	preds, err := p.Predict(ds.Features)
	if err != nil {
		return Accuracy{}, err
	}
	if len(preds) != ds.Len() {
		return Accuracy{}, fmt.Errorf("predictor returned %d values for %d rows", len(preds), ds.Len())
	}
	acc := Accuracy{Total: ds.Len()}
	var absErr float64
	for i, pred := range preds {
		diff := math.Abs(pred - ds.Labels[i])
		absErr += diff
		if diff <= tolerance {
			acc.Hits++
		}
	}
	acc.Percent = float64(acc.Hits) / float64(acc.Total) * 100
	acc.MAE = absErr / float64(acc.Total)
	return acc, nil
}
