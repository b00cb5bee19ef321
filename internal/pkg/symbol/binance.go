package symbol

import "strings"

// BinanceConverter maps "BTC/USDT" to the spot pair code "BTCUSDT".
type BinanceConverter struct{}

func (BinanceConverter) ToExchange(internal string) string {
	if sym := Parse(internal).Binance(); sym != "" {
		return sym
	}
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(internal)), "/", "")
}

func (BinanceConverter) FromExchange(raw string) string {
	return Parse(raw).Internal()
}

func (BinanceConverter) Format() Format {
	return FormatBinance
}

var Binance = BinanceConverter{}
