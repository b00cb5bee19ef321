// Package gbdt is a small gradient boosted regression tree learner with
// LightGBM style parameters: leaf-wise growth, histogram split search, L1/L2
// leaf regularisation, row bagging and feature sampling.
package gbdt

import (
	"fmt"
	"strings"
)

// Params mirror the LightGBM names used in configuration.
type Params struct {
	Objective       string  `json:"objective"`
	NumIterations   int     `json:"num_iterations"`
	NumLeaves       int     `json:"num_leaves"`
	LearningRate    float64 `json:"learning_rate"`
	BaggingFraction float64 `json:"bagging_fraction"`
	FeatureFraction float64 `json:"feature_fraction"`
	LambdaL1        float64 `json:"lambda_l1"`
	LambdaL2        float64 `json:"lambda_l2"`
	MinDataInLeaf   int     `json:"min_data_in_leaf"`
	MaxBin          int     `json:"max_bin"`
	Seed            int64   `json:"seed"`
}

// DefaultParams is the tuned set the bot trains with.
func DefaultParams() Params {
	return Params{
		Objective:       "regression",
		NumIterations:   1000,
		NumLeaves:       13,
		LearningRate:    0.1,
		BaggingFraction: 0.6065339345698,
		FeatureFraction: 0.99999999,
		LambdaL1:        0.0120496605030283,
		LambdaL2:        0.139677140815755,
		MinDataInLeaf:   20,
		MaxBin:          1033,
		Seed:            1,
	}
}

func (p Params) Validate() error {
	switch strings.ToLower(strings.TrimSpace(p.Objective)) {
	case "regression", "regression_l2", "l2", "mse":
	default:
		return fmt.Errorf("unsupported objective %q", p.Objective)
	}
	if p.NumIterations <= 0 {
		return fmt.Errorf("num_iterations must be > 0")
	}
	if p.NumLeaves < 2 {
		return fmt.Errorf("num_leaves must be >= 2")
	}
	if p.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0")
	}
	if p.BaggingFraction <= 0 || p.BaggingFraction > 1 {
		return fmt.Errorf("bagging_fraction must be in (0,1]")
	}
	if p.FeatureFraction <= 0 || p.FeatureFraction > 1 {
		return fmt.Errorf("feature_fraction must be in (0,1]")
	}
	if p.LambdaL1 < 0 || p.LambdaL2 < 0 {
		return fmt.Errorf("lambda_l1/lambda_l2 must be >= 0")
	}
	if p.MinDataInLeaf < 1 {
		return fmt.Errorf("min_data_in_leaf must be >= 1")
	}
	if p.MaxBin < 2 {
		return fmt.Errorf("max_bin must be >= 2")
	}
	return nil
}
