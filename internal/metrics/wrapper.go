package metrics

// MetricsWrapper adapts Metrics to the narrow recorder interface used by the
// terminal package, so that package does not depend on Prometheus types.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) SymbolConfigured() {
	w.m.SymbolsConfigured.Inc()
}

func (w *MetricsWrapper) SymbolFailed() {
	w.m.SymbolFailures.Inc()
}

func (w *MetricsWrapper) ObserveApply(seconds float64) {
	w.m.ApplyDuration.Observe(seconds)
}
