package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	Executions        Counter
	Blocked           Counter
	BreakerTrips      Counter
	BreakerResets     Counter
	Sweeps            Counter
	SweepsSkipped     Counter
	TranchesCreated   Counter
	TranchesMatched   Counter
	TranchesUnsold    Counter
	ExecutionFailures Counter

	ParadoxScore   Gauge
	BreakerTripped Gauge
	LedgerPoolSize Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Executions:        n,
		Blocked:           n,
		BreakerTrips:      n,
		BreakerResets:     n,
		Sweeps:            n,
		SweepsSkipped:     n,
		TranchesCreated:   n,
		TranchesMatched:   n,
		TranchesUnsold:    n,
		ExecutionFailures: n,
		ParadoxScore:      g,
		BreakerTripped:    g,
		LedgerPoolSize:    g,
	}
}
