package gbdt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"mlbot/internal/dataset"
	"mlbot/internal/model"
)

// Kind tags persisted blobs produced by this package.
const Kind = "gbdt"

// Trainer fits a new Model per call.
type Trainer struct {
	Params Params
}

func NewTrainer(p Params) (*Trainer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Trainer{Params: p}, nil
}

var _ model.Trainer = (*Trainer)(nil)

func (t *Trainer) Train(ctx context.Context, ds dataset.Dataset) (model.Predictor, error) {
	return t.Fit(ctx, ds)
}

// Fit is Train with the concrete return type.
func (t *Trainer) Fit(ctx context.Context, ds dataset.Dataset) (*Model, error) {
	p := t.Params
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := ds.Len()
	if n == 0 {
		return nil, dataset.ErrEmptyDataset
	}
	if len(ds.Features) != n {
		return nil, fmt.Errorf("features/labels length mismatch: %d vs %d", len(ds.Features), n)
	}
	nf := len(ds.Features[0])
	if nf == 0 {
		return nil, errors.New("dataset has no features")
	}
	var sum float64
	for i, row := range ds.Features {
		if len(row) != nf {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), nf)
		}
		if !finite(ds.Labels[i]) {
			return nil, fmt.Errorf("row %d has non-finite label", i)
		}
		sum += ds.Labels[i]
	}

	m := &Model{Params: p, NumFeatures: nf, Base: sum / float64(n)}
	bins := newBinner(ds.Features, nf, p.MaxBin)
	binned := make([][]int, n)
	for i, row := range ds.Features {
		binned[i] = make([]int, nf)
		for f, v := range row {
			binned[i][f] = bins.bin(f, v)
		}
	}

	rng := rand.New(rand.NewSource(p.Seed))
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = m.Base
	}
	g := &grower{p: p, bins: bins, binned: binned, resid: make([]float64, n)}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	bagSize := max(1, int(math.Round(float64(n)*p.BaggingFraction)))
	featSize := max(1, int(math.Round(float64(nf)*p.FeatureFraction)))

	for it := 0; it < p.NumIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range g.resid {
			g.resid[i] = ds.Labels[i] - pred[i]
		}
		rows := all
		if bagSize < n {
			rows = rng.Perm(n)[:bagSize]
		}
		g.features = all[:nf]
		if featSize < nf {
			g.features = rng.Perm(nf)[:featSize]
		}
		tr := g.grow(rows)
		for i, row := range ds.Features {
			pred[i] += tr.predict(row)
		}
		m.Trees = append(m.Trees, tr)
	}
	return m, nil
}

// Model is a trained ensemble.
type Model struct {
	Params      Params  `json:"params"`
	NumFeatures int     `json:"num_features"`
	Base        float64 `json:"base"`
	Trees       []tree  `json:"trees"`
}

var _ model.Persistable = (*Model)(nil)

func (m *Model) Kind() string { return Kind }

func (m *Model) Predict(features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, row := range features {
		if len(row) != m.NumFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), m.NumFeatures)
		}
		v := m.Base
		for _, t := range m.Trees {
			v += t.predict(row)
		}
		out[i] = v
	}
	return out, nil
}

func (m *Model) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// ParamsJSON is stored next to the blob so artifacts can be compared
// without decoding them.
func (m *Model) ParamsJSON() ([]byte, error) {
	return json.Marshal(m.Params)
}

// Load restores a model written by MarshalBinary.
func Load(blob []byte) (*Model, error) {
	if err := validateBlob(blob); err != nil {
		return nil, fmt.Errorf("decode gbdt model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("decode gbdt model: %w", err)
	}
	if m.NumFeatures <= 0 {
		return nil, errors.New("decode gbdt model: missing feature count")
	}
	for i, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("decode gbdt model: tree %d is empty", i)
		}
	}
	return &m, nil
}
