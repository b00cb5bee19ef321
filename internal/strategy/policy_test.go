package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfitTargetPolicy(t *testing.T) {
	pos := Position{Amount: 30, EntryPrice: 20878, TargetPct: 0.1}

	sell, _ := ProfitTargetPolicy{}.ShouldSell(pos, priceEvent(20890, false))
	assert.False(t, sell)
	sell, reason := ProfitTargetPolicy{}.ShouldSell(pos, priceEvent(20900, false))
	assert.True(t, sell)
	assert.Contains(t, reason, "profit")

	sell, _ = ProfitTargetPolicy{}.ShouldSell(pos, priceEvent(20880, true))
	assert.False(t, sell, "fallback disabled")
	sell, reason = ProfitTargetPolicy{CloseFallback: true}.ShouldSell(pos, priceEvent(20880, true))
	assert.True(t, sell)
	assert.Contains(t, reason, "closed")
	sell, _ = ProfitTargetPolicy{CloseFallback: true}.ShouldSell(pos, priceEvent(20870, true))
	assert.False(t, sell, "never sells below entry on close")
}

func TestPredictedHighPolicy(t *testing.T) {
	pos := Position{Amount: 10, EntryPrice: 100, PredictedHigh: 104}
	p := PredictedHighPolicy{}

	sell, _ := p.ShouldSell(pos, priceEvent(103, false))
	assert.False(t, sell)
	sell, _ = p.ShouldSell(pos, priceEvent(104, false))
	assert.True(t, sell)
	sell, _ = p.ShouldSell(pos, priceEvent(100, true))
	assert.True(t, sell)
	sell, _ = p.ShouldSell(pos, priceEvent(99, true))
	assert.False(t, sell)
}

func TestNewSellPolicy(t *testing.T) {
	p, err := NewSellPolicy("", true)
	require.NoError(t, err)
	assert.Equal(t, ProfitTargetPolicy{CloseFallback: true}, p)

	p, err = NewSellPolicy(" Predicted_High ", false)
	require.NoError(t, err)
	assert.Equal(t, PolicyPredictedHigh, p.Name())

	_, err = NewSellPolicy("moon", false)
	assert.Error(t, err)
}

func TestCancelFlag(t *testing.T) {
	var nilFlag *CancelFlag
	assert.False(t, nilFlag.IsSet())

	f := &CancelFlag{}
	assert.False(t, f.IsSet())
	f.Set()
	f.Set()
	assert.True(t, f.IsSet())
}

func TestStatusText(t *testing.T) {
	s := Status{Symbol: "BTC/USDT", Interval: "1h", Mode: "test", Phase: "WaitingForTarget", EntryPrice: 100, PredictedHigh: 104, TargetPrice: 101}
	text := s.Text()
	assert.Contains(t, text, "BTC/USDT 1h (test): WaitingForTarget")
	assert.Contains(t, text, "entry=100")
}
