package binance

import (
	"fmt"
	"strings"

	"mlbot/internal/market"
	symbolpkg "mlbot/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

type decimalField struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

func parseFields(fields ...decimalField) error {
	for _, f := range fields {
		d, err := market.ParseDecimal(strings.TrimSpace(f.raw))
		if err != nil {
			return fmt.Errorf("%s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func convertKline(kl *binance.Kline) (market.Candle, error) {
	c := market.Candle{OpenTime: kl.OpenTime, CloseTime: kl.CloseTime}
	err := parseFields(
		decimalField{"open", kl.Open, &c.Open},
		decimalField{"high", kl.High, &c.High},
		decimalField{"low", kl.Low, &c.Low},
		decimalField{"close", kl.Close, &c.Close},
		decimalField{"volume", kl.Volume, &c.Volume},
		decimalField{"quote_volume", kl.QuoteAssetVolume, &c.QuoteVolume},
	)
	return c, err
}

func convertKlineEvent(ev *binance.WsKlineEvent) (market.CandleEvent, error) {
	if ev == nil {
		return market.CandleEvent{}, fmt.Errorf("nil kline event")
	}
	k := ev.Kline
	c := market.Candle{OpenTime: k.StartTime, CloseTime: k.EndTime}
	if err := parseFields(
		decimalField{"open", k.Open, &c.Open},
		decimalField{"high", k.High, &c.High},
		decimalField{"low", k.Low, &c.Low},
		decimalField{"close", k.Close, &c.Close},
		decimalField{"volume", k.Volume, &c.Volume},
		decimalField{"quote_volume", k.QuoteVolume, &c.QuoteVolume},
	); err != nil {
		return market.CandleEvent{}, err
	}
	sym := ev.Symbol
	if sym == "" {
		sym = k.Symbol
	}
	interval := market.Interval(strings.ToLower(strings.TrimSpace(k.Interval)))
	if sym == "" || interval == "" {
		return market.CandleEvent{}, fmt.Errorf("kline event missing symbol or interval")
	}
	return market.CandleEvent{
		Symbol:   symbolpkg.Binance.FromExchange(sym),
		Interval: interval,
		Candle:   c,
		Final:    k.IsFinal,
	}, nil
}
