package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one closed or in-progress OHLCV bar. Times are unix milliseconds.
type Candle struct {
	OpenTime    int64           `json:"open_time"`
	CloseTime   int64           `json:"close_time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
}

// Valid reports whether the candle spans a positive time range.
func (c Candle) Valid() bool {
	return c.OpenTime < c.CloseTime
}

func (c Candle) OpenAt() time.Time  { return time.UnixMilli(c.OpenTime).UTC() }
func (c Candle) CloseAt() time.Time { return time.UnixMilli(c.CloseTime).UTC() }

func (c Candle) TimeString() string {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	if ts <= 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("01-02 15:04") + "Z"
}

func (c Candle) String() string {
	return fmt.Sprintf("%s O=%s H=%s L=%s C=%s V=%s",
		c.OpenAt().Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// ParseDecimal converts an exchange price string. Empty strings yield zero.
func ParseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
