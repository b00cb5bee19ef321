// Package metrics exposes the trading loop's Prometheus series:
//
//	mlbot_cycles_total{result}        cycles by outcome (bought|skipped|aborted|error)
//	mlbot_orders_total{side,mode}     orders placed (mode: test|live)
//	mlbot_training_seconds            model training duration
//	mlbot_training_samples            rows in the last training set
//	mlbot_phase                       current strategy phase ordinal
//	mlbot_prediction                  last predicted high
//	mlbot_realized_profit_pct         profit of the last closed cycle
//	mlbot_stream_events_total         live candle events consumed
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	orders          *prometheus.CounterVec
	trainingSeconds prometheus.Histogram
	trainingSamples prometheus.Gauge
	phase           prometheus.Gauge
	prediction      prometheus.Gauge
	profitPct       prometheus.Gauge
	streamEvents    prometheus.Counter
}

// New builds a recorder on its own registry, with Go and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlbot_cycles_total",
			Help: "Strategy cycles by result.",
		}, []string{"result"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlbot_orders_total",
			Help: "Orders placed by side and mode.",
		}, []string{"side", "mode"}),
		trainingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mlbot_training_seconds",
			Help:    "Model training duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		trainingSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mlbot_training_samples",
			Help: "Rows in the last training dataset.",
		}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mlbot_phase",
			Help: "Current strategy phase (0=Idle 1=Training 2=Gating 3=Bought 4=WaitingForTarget 5=Selling).",
		}),
		prediction: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mlbot_prediction",
			Help: "Last predicted high.",
		}),
		profitPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mlbot_realized_profit_pct",
			Help: "Profit percentage of the last sell.",
		}),
		streamEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlbot_stream_events_total",
			Help: "Live candle events consumed while waiting to sell.",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.cycles, r.orders, r.trainingSeconds, r.trainingSamples,
		r.phase, r.prediction, r.profitPct, r.streamEvents,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the text exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Cycle(result string) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(result).Inc()
}

func (r *Recorder) Order(side string, test bool) {
	if r == nil {
		return
	}
	mode := "live"
	if test {
		mode = "test"
	}
	r.orders.WithLabelValues(side, mode).Inc()
}

func (r *Recorder) Training(seconds float64, samples int) {
	if r == nil {
		return
	}
	r.trainingSeconds.Observe(seconds)
	r.trainingSamples.Set(float64(samples))
}

func (r *Recorder) Phase(ordinal int) {
	if r == nil {
		return
	}
	r.phase.Set(float64(ordinal))
}

func (r *Recorder) Prediction(v float64) {
	if r == nil {
		return
	}
	r.prediction.Set(v)
}

func (r *Recorder) Profit(pct float64) {
	if r == nil {
		return
	}
	r.profitPct.Set(pct)
}

func (r *Recorder) StreamEvent() {
	if r == nil {
		return
	}
	r.streamEvents.Inc()
}
