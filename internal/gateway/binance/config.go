package binance

import (
	"strings"
	"time"
)

// MaxKlinesPerPage is the spot klines endpoint limit.
const MaxKlinesPerPage = 1000

type Config struct {
	APIKey      string
	APISecret   string
	RESTBaseURL string
	Testnet     bool
	HTTPTimeout time.Duration

	// RequestsPerSecond paces REST calls; zero disables pacing.
	RequestsPerSecond float64
	ProxyURL          string
	StreamBuffer      int
	CloseTimeout      time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.APISecret = strings.TrimSpace(out.APISecret)
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.RequestsPerSecond < 0 {
		out.RequestsPerSecond = 0
	}
	if out.StreamBuffer <= 0 {
		out.StreamBuffer = 256
	}
	if out.CloseTimeout <= 0 {
		out.CloseTimeout = 5 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}
