package config

import (
	"fmt"
	"strings"
	"time"

	"mlbot/internal/market"
	"mlbot/internal/model/gbdt"
)

// Config is the root of the bot configuration. Keys are snake_case.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Verbose bool          `mapstructure:"verbose"`
	Symbol  string        `mapstructure:"symbol"`
	Binance BinanceConfig `mapstructure:"binance"`
	Trade   TradeConfig   `mapstructure:"trade"`
	Model   ModelConfig   `mapstructure:"model"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Dataset DatasetConfig `mapstructure:"dataset"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

type BinanceConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	APISecret         string        `mapstructure:"api_secret"`
	RESTBaseURL       string        `mapstructure:"rest_base_url"`
	Testnet           bool          `mapstructure:"testnet"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	ProxyURL          string        `mapstructure:"proxy_url"`
	DatasetMaxDays    int           `mapstructure:"dataset_max_days"`
	Interval          string        `mapstructure:"interval"`
}

// Lookback is the training window.
func (b BinanceConfig) Lookback() time.Duration {
	return time.Duration(b.DatasetMaxDays) * 24 * time.Hour
}

type TradeConfig struct {
	Amount              float64       `mapstructure:"amount"`
	Test                bool          `mapstructure:"test"`
	ProfitPercentage    float64       `mapstructure:"profit_percentage"`
	SellPolicy          string        `mapstructure:"sell_policy"`
	SellAtCloseFallback bool          `mapstructure:"sell_at_close_fallback"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	UntilNextCandle     bool          `mapstructure:"until_next_candle"`
	CancelPollInterval  time.Duration `mapstructure:"cancel_poll_interval"`
	ErrorBackoff        time.Duration `mapstructure:"error_backoff"`
}

func (t TradeConfig) Mode() string {
	if t.Test {
		return "test"
	}
	return "live"
}

type ModelConfig struct {
	Objective       string  `mapstructure:"objective"`
	NumIterations   int     `mapstructure:"num_iterations"`
	NumLeaves       int     `mapstructure:"num_leaves"`
	LearningRate    float64 `mapstructure:"learning_rate"`
	BaggingFraction float64 `mapstructure:"bagging_fraction"`
	FeatureFraction float64 `mapstructure:"feature_fraction"`
	LambdaL1        float64 `mapstructure:"lambda_l1"`
	LambdaL2        float64 `mapstructure:"lambda_l2"`
	MinDataInLeaf   int     `mapstructure:"min_data_in_leaf"`
	MaxBin          int     `mapstructure:"max_bin"`
	Seed            int64   `mapstructure:"seed"`
	StorePath       string  `mapstructure:"store_path"`
	Persist         bool    `mapstructure:"persist"`
	Keep            int     `mapstructure:"keep"`
}

// Params converts the section into learner parameters.
func (m ModelConfig) Params() gbdt.Params {
	return gbdt.Params{
		Objective:       m.Objective,
		NumIterations:   m.NumIterations,
		NumLeaves:       m.NumLeaves,
		LearningRate:    m.LearningRate,
		BaggingFraction: m.BaggingFraction,
		FeatureFraction: m.FeatureFraction,
		LambdaL1:        m.LambdaL1,
		LambdaL2:        m.LambdaL2,
		MinDataInLeaf:   m.MinDataInLeaf,
		MaxBin:          m.MaxBin,
		Seed:            m.Seed,
	}
}

type NotifyConfig struct {
	Telegram  TelegramConfig `mapstructure:"telegram"`
	QueueSize int            `mapstructure:"queue_size"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// DatasetConfig drives the offline dataset and trainer tools.
type DatasetConfig struct {
	ArchiveDir  string  `mapstructure:"archive_dir"`
	CSVPath     string  `mapstructure:"csv_path"`
	Fluctuation float64 `mapstructure:"fluctuation"`
	TrainRatio  float64 `mapstructure:"train_ratio"`
}

// Interval parses binance.interval; Load has already validated it.
func (c *Config) Interval() market.Interval {
	iv, err := market.ParseInterval(c.Binance.Interval)
	if err != nil {
		return market.Interval1h
	}
	return iv
}

// ConfigError is a missing or malformed setting. It is fatal at startup.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(key, format string, args ...any) *ConfigError {
	return &ConfigError{Key: key, Err: fmt.Errorf(format, args...)}
}

// keySet tracks the paths explicitly present in the loaded files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path != "" {
		k[path] = struct{}{}
	}
}

func (k keySet) isSet(path string) bool {
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
