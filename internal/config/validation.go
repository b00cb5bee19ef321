package config

import (
	"net/url"
	"strings"

	"mlbot/internal/market"
	"mlbot/internal/pkg/symbol"
	"mlbot/internal/strategy"
)

func validate(c *Config) error {
	if !symbol.IsValid(c.Symbol) {
		return configErrorf("symbol", "%q is not a BASE/QUOTE pair", c.Symbol)
	}
	c.Symbol = symbol.Normalize(c.Symbol)
	if err := c.Binance.validate(); err != nil {
		return err
	}
	if err := c.Trade.validate(); err != nil {
		return err
	}
	if err := c.Model.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return c.Dataset.validate()
}

func (b *BinanceConfig) validate() error {
	iv, err := market.ParseInterval(b.Interval)
	if err != nil {
		return &ConfigError{Key: "binance.interval", Err: err}
	}
	b.Interval = iv.String()
	if b.DatasetMaxDays <= 0 {
		return configErrorf("binance.dataset_max_days", "must be > 0")
	}
	if b.RequestsPerSecond < 0 {
		return configErrorf("binance.requests_per_second", "must be >= 0")
	}
	if raw := strings.TrimSpace(b.RESTBaseURL); raw != "" {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return configErrorf("binance.rest_base_url", "%q is not an absolute URL", raw)
		}
	}
	if raw := strings.TrimSpace(b.ProxyURL); raw != "" {
		if _, err := url.Parse(raw); err != nil {
			return &ConfigError{Key: "binance.proxy_url", Err: err}
		}
	}
	return nil
}

func (t *TradeConfig) validate() error {
	if t.Amount <= 0 {
		return configErrorf("trade.amount", "must be > 0")
	}
	if t.ProfitPercentage < 0 {
		return configErrorf("trade.profit_percentage", "must be >= 0")
	}
	if _, err := strategy.NewSellPolicy(t.SellPolicy, t.SellAtCloseFallback); err != nil {
		return &ConfigError{Key: "trade.sell_policy", Err: err}
	}
	if t.CancelPollInterval <= 0 {
		return configErrorf("trade.cancel_poll_interval", "must be > 0")
	}
	return nil
}

func (m *ModelConfig) validate() error {
	if err := m.Params().Validate(); err != nil {
		return &ConfigError{Key: "model", Err: err}
	}
	if m.Persist && strings.TrimSpace(m.StorePath) == "" {
		return configErrorf("model.store_path", "required when model.persist is true")
	}
	if m.Keep < 0 {
		return configErrorf("model.keep", "must be >= 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" {
		return configErrorf("notify.telegram.bot_token", "required when telegram is enabled")
	}
	if tg.ChatID == 0 {
		return configErrorf("notify.telegram.chat_id", "required when telegram is enabled")
	}
	return nil
}

func (d *DatasetConfig) validate() error {
	if d.TrainRatio <= 0 || d.TrainRatio >= 1 {
		return configErrorf("dataset.train_ratio", "must be in (0,1)")
	}
	if d.Fluctuation < 0 {
		return configErrorf("dataset.fluctuation", "must be >= 0")
	}
	return nil
}
