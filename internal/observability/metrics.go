// Package observability expone las métricas Prometheus del keeper.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aegis"

// Metrics implementa vault.Recorder sobre un registry propio.
type Metrics struct {
	registry *prometheus.Registry

	rebalances  *prometheus.CounterVec
	duration    prometheus.Histogram
	flows       *prometheus.CounterVec
	supplied    prometheus.Gauge
	borrowed    prometheus.Gauge
	shares      prometheus.Gauge
	liquidity   prometheus.Gauge
	leverage    prometheus.Gauge
	halted      prometheus.Gauge
	healthBps   prometheus.Gauge
	fusedPrice  prometheus.Gauge
	pegBps      prometheus.Gauge
	conflictBps prometheus.Gauge
	stale       prometheus.Gauge
	qualityOK   prometheus.Gauge
}

// NewMetrics crea y registra todas las métricas.
func NewMetrics() *Metrics {
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "total",
			Help:      "Control loop invocations by resulting state and outcome.",
		}, []string{"state", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebalance",
			Name:      "duration_seconds",
			Help:      "Duration of control loop invocations in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "flow_amount_total",
			Help:      "Asset base units moved by deposits and withdrawals.",
		}, []string{"kind"}),
		supplied:    gauge("vault", "total_supplied", "Gross capital booked by the vault, in asset base units."),
		borrowed:    gauge("vault", "total_borrowed", "Debt owed to the lending venue, in asset base units."),
		shares:      gauge("vault", "total_shares", "Outstanding vault shares."),
		liquidity:   gauge("vault", "liquidity", "Idle asset balance held by the vault account."),
		leverage:    gauge("vault", "leverage_bps", "Supplied over equity in basis points."),
		halted:      gauge("vault", "halted", "1 while the panic latch is set."),
		healthBps:   gauge("venue", "health_factor_bps", "Lending venue health factor in basis points."),
		fusedPrice:  gauge("oracle", "fused_price", "Fused stablecoin price as a ratio to the 1.0 peg."),
		pegBps:      gauge("oracle", "peg_deviation_bps", "Deviation of the fused price from 1.0 in basis points."),
		conflictBps: gauge("oracle", "conflict_bps", "Relative disagreement between feeds in basis points."),
		stale:       gauge("oracle", "stale", "1 when any feed is older than the staleness threshold."),
		qualityOK:   gauge("oracle", "quality_ok", "1 when confidence and confirmations pass."),
	}

	m.registry.MustRegister(
		m.rebalances, m.duration, m.flows,
		m.supplied, m.borrowed, m.shares, m.liquidity, m.leverage, m.halted,
		m.healthBps, m.fusedPrice, m.pegBps, m.conflictBps, m.stale, m.qualityOK,
	)
	return m
}

// Handler sirve el registry en formato de exposición Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry permite registrar colectores adicionales.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveVault(v *domain.Vault, liquidity uint64) {
	m.supplied.Set(float64(v.TotalSupplied))
	m.borrowed.Set(float64(v.TotalBorrowed))
	m.shares.Set(float64(v.TotalShares))
	m.liquidity.Set(float64(liquidity))
	m.leverage.Set(float64(v.LeverageBps()))
	m.halted.Set(boolGauge(v.Halted))
}

func (m *Metrics) ObserveOracle(r domain.OracleReading) {
	m.fusedPrice.Set(float64(r.FusedPrice) / float64(domain.PegPrice))
	m.pegBps.Set(float64(r.PegDeviationBps))
	m.conflictBps.Set(float64(r.ConflictBps))
	m.stale.Set(boolGauge(r.IsStale))
	m.qualityOK.Set(boolGauge(r.QualityOK))
}

func (m *Metrics) ObserveHealthFactor(bps uint64) {
	m.healthBps.Set(float64(bps))
}

func (m *Metrics) ObserveRebalance(state string, err error, d time.Duration) {
	m.rebalances.WithLabelValues(state, outcome(err)).Inc()
	m.duration.Observe(d.Seconds())
	if errors.Is(err, domain.ErrVaultHalted) {
		m.halted.Set(1)
	}
}

func (m *Metrics) ObserveFlow(kind string, amount uint64) {
	m.flows.WithLabelValues(kind).Add(float64(amount))
}

// outcome clasifica el error de una invocación en una etiqueta de baja
// cardinalidad.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrRebalanceCooldown), errors.Is(err, domain.ErrReexpansionCooldown):
		return "cooldown"
	case errors.Is(err, domain.ErrVaultHalted):
		return "halted"
	case errors.Is(err, domain.ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, domain.ErrVenue):
		return "venue_error"
	default:
		return "error"
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
