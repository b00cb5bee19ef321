package app

import (
	"fmt"
	"io"
	"strings"

	"mlbot/internal/config"
	"mlbot/internal/strategy"
	statushttp "mlbot/internal/transport/http/status"

	"github.com/jedib0t/go-pretty/v6/table"
)

// StartupSummary is printed once before the engine starts.
type StartupSummary struct {
	Symbol     string
	Interval   string
	Mode       string
	Amount     float64
	ProfitPct  float64
	SellPolicy string
	Lookback   string
	Cooldown   string
	Model      string
	Persist    string
	Telegram   bool
	StatusAddr string
}

func newStartupSummary(cfg *config.Config, policy strategy.SellPolicy, server *statushttp.Server) *StartupSummary {
	s := &StartupSummary{
		Symbol:    cfg.Symbol,
		Interval:  cfg.Interval().String(),
		Mode:      cfg.Trade.Mode(),
		Amount:    cfg.Trade.Amount,
		ProfitPct: cfg.Trade.ProfitPercentage,
		Lookback:  fmt.Sprintf("%dd", cfg.Binance.DatasetMaxDays),
		Cooldown:  cfg.Trade.Cooldown.String(),
		Model: fmt.Sprintf("%s iters=%d leaves=%d lr=%g",
			cfg.Model.Objective, cfg.Model.NumIterations, cfg.Model.NumLeaves, cfg.Model.LearningRate),
		Persist:  "-",
		Telegram: cfg.Notify.Telegram.Enabled,
	}
	if cfg.Trade.UntilNextCandle {
		s.Cooldown = "until next candle"
	}
	if policy != nil {
		s.SellPolicy = policy.Name()
	}
	if cfg.Model.Persist {
		s.Persist = fmt.Sprintf("%s (keep %d)", cfg.Model.StorePath, cfg.Model.Keep)
	}
	if server != nil {
		s.StatusAddr = server.Addr()
	}
	return s
}

// Render writes the summary table to w.
func (s *StartupSummary) Render(w io.Writer) {
	if s == nil || w == nil {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("mlbot startup summary")
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRows([]table.Row{
		{"Symbol", s.Symbol},
		{"Interval", s.Interval},
		{"Mode", strings.ToUpper(s.Mode)},
		{"Amount (quote)", s.Amount},
		{"Profit target %", s.ProfitPct},
		{"Sell policy", orDash(s.SellPolicy)},
		{"Training window", s.Lookback},
		{"Skip cooldown", s.Cooldown},
		{"Model", s.Model},
		{"Model store", s.Persist},
		{"Telegram", onOff(s.Telegram)},
		{"Status HTTP", orDash(s.StatusAddr)},
	})
	t.SetStyle(table.StyleLight)
	t.Render()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
