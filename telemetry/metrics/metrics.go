// Package metrics defines the minimal metrics provider abstraction bleak's
// controllers instrument against, grounded on the teacher's
// engine/internal/telemetry/metrics Provider contract: a small interface so
// the detector doesn't depend directly on Prometheus or OpenTelemetry types.
package metrics

import "context"

// Provider is the metrics provider contract bleak's controllers use.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	Health(ctx context.Context) error
}

// Counter is a monotonically increasing instrument.
type Counter interface{ Inc(delta float64, labels ...string) }

// Gauge is a point-in-time instrument.
type Gauge interface {
	Set(v float64, labels ...string)
	Add(delta float64, labels ...string)
}

// Histogram records a distribution of observed values.
type Histogram interface{ Observe(v float64, labels ...string) }

// CommonOpts names a metric; Namespace/Subsystem/Name compose into one
// registered name per backend's own convention.
type CommonOpts struct {
	Namespace, Subsystem, Name, Help string
	Labels                           []string
}

type CounterOpts struct{ CommonOpts }
type GaugeOpts struct{ CommonOpts }
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

type noopProvider struct{}
type noopCounter struct{}
type noopGauge struct{}
type noopHistogram struct{}

// NewNoopProvider returns a Provider that discards everything — what the CLI
// uses when metrics are not enabled or the noop backend is selected.
func NewNoopProvider() Provider { return noopProvider{} }

func (noopProvider) NewCounter(CounterOpts) Counter       { return noopCounter{} }
func (noopProvider) NewGauge(GaugeOpts) Gauge             { return noopGauge{} }
func (noopProvider) NewHistogram(HistogramOpts) Histogram { return noopHistogram{} }
func (noopProvider) Health(context.Context) error         { return nil }

func (noopCounter) Inc(float64, ...string)     {}
func (noopGauge) Set(float64, ...string)       {}
func (noopGauge) Add(float64, ...string)       {}
func (noopHistogram) Observe(float64, ...string) {}
