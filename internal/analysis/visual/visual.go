// Package visual renders model evaluation charts as standalone HTML.
package visual

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorActual        = "#34d399"
	colorPredicted     = "#fbbf24"
	colorEMA           = "#3b82f6"

	chartWidthPx  = 1600
	chartHeightPx = 600

	defaultEMAPeriod = 24
)

// PredictionInput is one evaluation run: the label and the model output per
// candle, in time order.
type PredictionInput struct {
	Symbol    string
	Interval  string
	OpenTimes []int64 // unix ms
	Actual    []float64
	Predicted []float64
	// EMAPeriod smooths the actual series; 0 means 24, negative disables it.
	EMAPeriod int
	Subtitle  string
}

func (in PredictionInput) validate() error {
	n := len(in.Actual)
	if n == 0 {
		return errors.New("no points to chart")
	}
	if len(in.Predicted) != n || len(in.OpenTimes) != n {
		return fmt.Errorf("series length mismatch: times=%d actual=%d predicted=%d", len(in.OpenTimes), n, len(in.Predicted))
	}
	return nil
}

// RenderPrediction writes an HTML line chart of actual vs predicted highs,
// with an EMA of the actual series when enough points exist.
func RenderPrediction(w io.Writer, in PredictionInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	period := in.EMAPeriod
	if period == 0 {
		period = defaultEMAPeriod
	}
	minV, maxV := bounds(in.Actual, in.Predicted)
	padding := (maxV - minV) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxV)*0.01)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s predicted vs actual high", strings.ToUpper(in.Symbol), in.Interval),
			Subtitle:      in.Subtitle,
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			Min:       round(minV-padding, 4),
			Max:       round(maxV+padding, 4),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	line.SetXAxis(xAxis(in.OpenTimes))
	line.AddSeries("actual high", toLineData(in.Actual, 0),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorActual, Width: 2}))
	line.AddSeries("predicted high", toLineData(in.Predicted, 0),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorPredicted, Width: 2}))
	if period > 1 && len(in.Actual) > period {
		ema := talib.Ema(in.Actual, period)
		line.AddSeries(fmt.Sprintf("EMA%d actual", period), toLineData(ema, period-1),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorEMA, Width: 1}))
	}
	return line.Render(w)
}

func xAxis(openTimes []int64) []string {
	out := make([]string, len(openTimes))
	for i, ts := range openTimes {
		out[i] = time.UnixMilli(ts).UTC().Format("01-02 15:04")
	}
	return out
}

// toLineData blanks the first skip points, which talib leaves unset.
func toLineData(series []float64, skip int) []opts.LineData {
	out := make([]opts.LineData, len(series))
	for i, v := range series {
		if i < skip || math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = opts.LineData{Value: nil}
			continue
		}
		out[i] = opts.LineData{Value: round(v, 4)}
	}
	return out
}

func bounds(series ...[]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	return lo, hi
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
