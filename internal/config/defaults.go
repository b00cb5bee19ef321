package config

import (
	"strings"
	"time"

	"mlbot/internal/model/gbdt"
	"mlbot/internal/strategy"
)

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultSymbol          = "BTC/USDT"
	defaultInterval        = "1h"
	defaultDatasetMaxDays  = 30
	defaultHTTPTimeout     = 15 * time.Second
	defaultRequestsPerSec  = 10
	defaultAmount          = 10
	defaultProfitPct       = 0.1
	defaultCooldown        = time.Hour
	defaultCancelPoll      = 250 * time.Millisecond
	defaultErrorBackoff    = time.Minute
	defaultModelStorePath  = "data/models.db"
	defaultModelKeep       = 10
	defaultNotifyQueueSize = 64
	defaultArchiveDir      = "data/klines"
	defaultCSVPath         = "data/dataset.csv"
	defaultFluctuation     = 50
	defaultTrainRatio      = 0.8
)

func (c *Config) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("symbol", &c.Symbol, defaultSymbol),
	)
	c.App.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
	c.Trade.applyDefaults(keys)
	c.Model.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Dataset.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("binance.interval", &b.Interval, defaultInterval),
		durationFieldDefault("binance.http_timeout", &b.HTTPTimeout, defaultHTTPTimeout),
		fieldDefault{
			key:   "binance.dataset_max_days",
			need:  func() bool { return b.DatasetMaxDays <= 0 },
			apply: func() { b.DatasetMaxDays = defaultDatasetMaxDays },
		},
		fieldDefault{
			key:   "binance.requests_per_second",
			need:  func() bool { return b.RequestsPerSecond == 0 },
			apply: func() { b.RequestsPerSecond = defaultRequestsPerSec },
		},
	)
}

func (t *TradeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("trade.test", &t.Test, true),
		stringFieldDefault("trade.sell_policy", &t.SellPolicy, strategy.PolicyProfitTarget),
		durationFieldDefault("trade.cooldown", &t.Cooldown, defaultCooldown),
		durationFieldDefault("trade.cancel_poll_interval", &t.CancelPollInterval, defaultCancelPoll),
		durationFieldDefault("trade.error_backoff", &t.ErrorBackoff, defaultErrorBackoff),
		fieldDefault{
			key:   "trade.amount",
			need:  func() bool { return t.Amount == 0 },
			apply: func() { t.Amount = defaultAmount },
		},
		fieldDefault{
			key:   "trade.profit_percentage",
			need:  func() bool { return t.ProfitPercentage == 0 },
			apply: func() { t.ProfitPercentage = defaultProfitPct },
		},
	)
	t.SellPolicy = strings.ToLower(strings.TrimSpace(t.SellPolicy))
}

func (m *ModelConfig) applyDefaults(keys keySet) {
	def := gbdt.DefaultParams()
	applyFieldDefaults(keys,
		stringFieldDefault("model.objective", &m.Objective, def.Objective),
		stringFieldDefault("model.store_path", &m.StorePath, defaultModelStorePath),
		intFieldDefault("model.num_iterations", &m.NumIterations, def.NumIterations),
		intFieldDefault("model.num_leaves", &m.NumLeaves, def.NumLeaves),
		intFieldDefault("model.min_data_in_leaf", &m.MinDataInLeaf, def.MinDataInLeaf),
		intFieldDefault("model.max_bin", &m.MaxBin, def.MaxBin),
		intFieldDefault("model.keep", &m.Keep, defaultModelKeep),
		floatFieldDefault("model.learning_rate", &m.LearningRate, def.LearningRate),
		floatFieldDefault("model.bagging_fraction", &m.BaggingFraction, def.BaggingFraction),
		floatFieldDefault("model.feature_fraction", &m.FeatureFraction, def.FeatureFraction),
		floatFieldDefault("model.lambda_l1", &m.LambdaL1, def.LambdaL1),
		floatFieldDefault("model.lambda_l2", &m.LambdaL2, def.LambdaL2),
		fieldDefault{
			key:   "model.seed",
			need:  func() bool { return m.Seed == 0 },
			apply: func() { m.Seed = def.Seed },
		},
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("notify.queue_size", &n.QueueSize, defaultNotifyQueueSize),
	)
}

func (d *DatasetConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("dataset.archive_dir", &d.ArchiveDir, defaultArchiveDir),
		stringFieldDefault("dataset.csv_path", &d.CSVPath, defaultCSVPath),
		floatFieldDefault("dataset.fluctuation", &d.Fluctuation, defaultFluctuation),
		floatFieldDefault("dataset.train_ratio", &d.TrainRatio, defaultTrainRatio),
	)
}

// applyFieldDefaults skips keys present in the config files, so an explicit
// zero or false survives.
func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
