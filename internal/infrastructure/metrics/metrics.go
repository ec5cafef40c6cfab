package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/crypto_trade_spot/internal/domain"
	"github.com/vitos/crypto_trade_spot/internal/usecase"
)

// Prometheus implements usecase.Metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	iterations    *prometheus.CounterVec
	signals       *prometheus.CounterVec
	orders        *prometheus.CounterVec
	triggers      *prometheus.CounterVec
	openPositions prometheus.Gauge
	running       prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	m := &Prometheus{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_iterations_total",
				Help: "Control loop iterations by outcome",
			},
			[]string{"outcome"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_signals_total",
				Help: "Crossover evaluations by symbol and signal",
			},
			[]string{"symbol", "signal"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_orders_total",
				Help: "Orders by mode, side and result",
			},
			[]string{"mode", "side", "result"},
		),
		triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_exit_triggers_total",
				Help: "TP/SL triggers by reason",
			},
			[]string{"reason"},
		),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Open positions seen by the last TP/SL sweep",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_running",
			Help: "1 while the control loop runs",
		}),
	}
	m.registry.MustRegister(m.iterations, m.signals, m.orders, m.triggers, m.openPositions, m.running)
	return m
}

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Prometheus) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Prometheus) ObserveIteration(outcome string) {
	m.iterations.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) ObserveSignal(symbol string, signal usecase.Signal) {
	m.signals.WithLabelValues(symbol, string(signal)).Inc()
}

func (m *Prometheus) ObserveOrder(mode string, side domain.Side, result string) {
	m.orders.WithLabelValues(mode, string(side), result).Inc()
}

func (m *Prometheus) ObserveTrigger(reason string) {
	m.triggers.WithLabelValues(reason).Inc()
}

func (m *Prometheus) SetOpenPositions(n int) {
	m.openPositions.Set(float64(n))
}

func (m *Prometheus) SetRunning(running bool) {
	if running {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}
