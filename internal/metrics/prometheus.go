package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "fry_engine"

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
	p.Metrics = &Metrics{
		Executions:        p.counter("executions_total", "Total number of admitted and executed opportunities."),
		Blocked:           p.counter("blocked_total", "Total number of execution attempts refused by the circuit breaker."),
		BreakerTrips:      p.counter("breaker_trips_total", "Total number of circuit breaker trips."),
		BreakerResets:     p.counter("breaker_resets_total", "Total number of administrative circuit breaker resets."),
		Sweeps:            p.counter("sweeps_total", "Total number of collateral events swept into the ledger."),
		SweepsSkipped:     p.counter("sweeps_skipped_total", "Total number of sweeps rejected by the directional filter."),
		TranchesCreated:   p.counter("tranches_total", "Total number of tranches created."),
		TranchesMatched:   p.counter("matches_total", "Total number of tranches sold to a buyer."),
		TranchesUnsold:    p.counter("unsold_total", "Total number of tranches left without a buyer."),
		ExecutionFailures: p.counter("execution_failures_total", "Total number of venue execution failures."),
		ParadoxScore:      p.gauge("paradox_score", "Most recent liquidity paradox score (0-100)."),
		BreakerTripped:    p.gauge("breaker_tripped", "1 when the circuit breaker is tripped."),
		LedgerPoolSize:    p.gauge("ledger_pool_size", "Number of collateral events available for securitization."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return c
}

func (p *Prometheus) gauge(name, help string) Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(g)
	p.gauges[name] = g
	return g
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
