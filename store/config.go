package store

import (
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
)

// Config holds configuration for the Store.
type Config struct {
	// Logger receives structured diagnostics for every failed operation.
	// Default: slog.Default()
	Logger *slog.Logger

	// Metrics is the set operation counters and latency summaries are
	// registered on. Supply a shared set to expose them alongside other
	// application metrics via WritePrometheus.
	// Default: a private set, readable through Store.WritePrometheus.
	Metrics *metrics.Set

	// MirrorWorkers caps the number of concurrent writes fanned out by
	// Mirror and MultiUpdate. Higher values increase throughput against
	// backends that tolerate parallel writes.
	// Default: 4
	// Max: 64
	MirrorWorkers int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Logger:        slog.Default(),
		Metrics:       metrics.NewSet(),
		MirrorWorkers: 4,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewSet()
	}
	if c.MirrorWorkers < 1 {
		c.MirrorWorkers = 4
	}
	if c.MirrorWorkers > 64 {
		c.MirrorWorkers = 64
	}
}
