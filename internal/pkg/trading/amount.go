// Package trading provides trading calculation utilities.
package trading

import "github.com/shopspring/decimal"

// ProfitPercentage returns the absolute profit of buying investment worth of
// an asset at buy and selling it at sell, plus that profit as a percentage of
// the investment. Non-positive buy prices yield zeroes.
func ProfitPercentage(investment, buy, sell float64) (profit, pct float64) {
	if buy <= 0 || investment == 0 {
		return 0, 0
	}
	qty := investment / buy
	profit = qty*sell - investment
	pct = profit / investment * 100
	return profit, pct
}

// TargetPrice is the sell price that realises pct percent over entry.
func TargetPrice(entry, pct float64) float64 {
	return entry * (1 + pct/100)
}

// QuoteQty formats a quote-asset amount for order APIs, trimmed to precision
// decimal places.
func QuoteQty(amount float64, precision int32) string {
	return decimal.NewFromFloat(amount).Truncate(precision).String()
}
