package strategy

import (
	"fmt"
	"strings"

	"mlbot/internal/market"
	"mlbot/internal/pkg/trading"
)

const (
	PolicyProfitTarget  = "profit_target"
	PolicyPredictedHigh = "predicted_high"
)

// Position is what a sell policy sees of the open trade.
type Position struct {
	Amount        float64
	EntryPrice    float64
	PredictedHigh float64
	TargetPct     float64
}

// SellPolicy decides, per live event, whether the open position is sold.
// The reason is used for logs and notifications.
type SellPolicy interface {
	Name() string
	ShouldSell(pos Position, ev market.CandleEvent) (bool, string)
}

// NewSellPolicy returns the policy registered under name. closeFallback only
// affects profit_target.
func NewSellPolicy(name string, closeFallback bool) (SellPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyProfitTarget:
		return ProfitTargetPolicy{CloseFallback: closeFallback}, nil
	case PolicyPredictedHigh:
		return PredictedHighPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown sell policy %q", name)
	}
}

// ProfitTargetPolicy sells once the event price yields at least the target
// percentage over entry. With CloseFallback a final candle closing at or
// above entry also sells.
type ProfitTargetPolicy struct {
	CloseFallback bool
}

func (ProfitTargetPolicy) Name() string { return PolicyProfitTarget }

func (p ProfitTargetPolicy) ShouldSell(pos Position, ev market.CandleEvent) (bool, string) {
	price := ev.Candle.Close.InexactFloat64()
	if price <= 0 || pos.EntryPrice <= 0 {
		return false, ""
	}
	if _, pct := trading.ProfitPercentage(pos.Amount, pos.EntryPrice, price); pct >= pos.TargetPct {
		return true, fmt.Sprintf("profit %.4f%% >= target %.4f%%", pct, pos.TargetPct)
	}
	if p.CloseFallback && ev.Final && price >= pos.EntryPrice {
		return true, fmt.Sprintf("candle closed at %.8g >= entry %.8g", price, pos.EntryPrice)
	}
	return false, ""
}

// PredictedHighPolicy sells when the price reaches the predicted high, or at
// the close of the candle when that is not below entry.
type PredictedHighPolicy struct{}

func (PredictedHighPolicy) Name() string { return PolicyPredictedHigh }

func (PredictedHighPolicy) ShouldSell(pos Position, ev market.CandleEvent) (bool, string) {
	price := ev.Candle.Close.InexactFloat64()
	if price <= 0 {
		return false, ""
	}
	if pos.PredictedHigh > 0 && price >= pos.PredictedHigh {
		return true, fmt.Sprintf("price %.8g reached predicted high %.8g", price, pos.PredictedHigh)
	}
	if ev.Final && pos.EntryPrice > 0 && price >= pos.EntryPrice {
		return true, fmt.Sprintf("candle closed at %.8g >= entry %.8g", price, pos.EntryPrice)
	}
	return false, ""
}
