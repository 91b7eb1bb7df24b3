// Package metrics provides Prometheus metrics for the MT5 configuration manager.
// It counts configuration updates, saves and loads, tracks the shape of the
// committed configuration, and measures how settings are applied to the
// trading terminal.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the configuration manager.
type Metrics struct {
	// Configuration lifecycle
	ConfigUpdates        prometheus.Counter // Successful partial updates
	ConfigUpdateFailures prometheus.Counter // Updates rejected by validation or parsing
	ConfigSaves          prometheus.Counter // Successful saves to disk
	ConfigLoads          prometheus.Counter // Successful loads from disk
	ConfigLoadFailures   prometheus.Counter // Loads that failed to read, parse or validate
	ConfigSymbols        prometheus.Gauge   // Number of symbols in the committed configuration
	LastCommit           prometheus.Gauge   // Unix time of the last committed configuration

	// Terminal settings application
	SymbolsConfigured prometheus.Counter   // Symbols successfully configured on the terminal
	SymbolFailures    prometheus.Counter   // Symbols the terminal refused or could not find
	ApplyDuration     prometheus.Histogram // Duration of a full settings application
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		ConfigUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "config_updates_total",
			Help: "Total number of committed configuration updates",
		}),
		ConfigUpdateFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "config_update_failures_total",
			Help: "Total number of rejected configuration updates",
		}),
		ConfigSaves: factory.NewCounter(prometheus.CounterOpts{
			Name: "config_saves_total",
			Help: "Total number of configuration saves",
		}),
		ConfigLoads: factory.NewCounter(prometheus.CounterOpts{
			Name: "config_loads_total",
			Help: "Total number of configuration loads",
		}),
		ConfigLoadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "config_load_failures_total",
			Help: "Total number of failed configuration loads",
		}),
		ConfigSymbols: factory.NewGauge(prometheus.GaugeOpts{
			Name: "config_symbols",
			Help: "Number of symbols in the committed configuration",
		}),
		LastCommit: factory.NewGauge(prometheus.GaugeOpts{
			Name: "config_last_commit_timestamp_seconds",
			Help: "Unix time of the last committed configuration",
		}),
		SymbolsConfigured: factory.NewCounter(prometheus.CounterOpts{
			Name: "terminal_symbols_configured_total",
			Help: "Total number of symbols configured on the terminal",
		}),
		SymbolFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "terminal_symbol_failures_total",
			Help: "Total number of symbols that failed to configure",
		}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "terminal_apply_duration_seconds",
			Help:    "Duration of applying settings to the terminal in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// RecordCommit updates the gauges that describe the committed configuration.
func (m *Metrics) RecordCommit(symbols int, at time.Time) {
	m.ConfigSymbols.Set(float64(symbols))
	m.LastCommit.Set(float64(at.Unix()))
}
