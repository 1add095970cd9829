package metrics

// NewOTelProvider bridges Provider onto an OTEL MeterProvider, grounded on
// the teacher's engine/telemetry/metrics.NewOTelProvider — gauges simulate
// Set semantics via an UpDownCounter delta, same trick the teacher uses.

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewOTelProvider returns a Provider backed by an OTEL MeterProvider with no
// exporter attached. The SDK MeterProvider is held internally and not
// returned, so no reader or exporter can be attached to it afterwards.
func NewOTelProvider(serviceName string) Provider {
	mp := sdkmetric.NewMeterProvider()
	meter := mp.Meter(serviceName)
	return &otelProvider{meter: meter}
}

type otelProvider struct {
	meter metric.Meter
}

func (p *otelProvider) NewCounter(opts CounterOpts) Counter {
	inst, err := p.meter.Float64Counter(fqName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{c: inst}
}

func (p *otelProvider) NewGauge(opts GaugeOpts) Gauge {
	inst, err := p.meter.Float64UpDownCounter(fqName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{g: inst}
}

func (p *otelProvider) NewHistogram(opts HistogramOpts) Histogram {
	inst, err := p.meter.Float64Histogram(fqName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{h: inst}
}

func (p *otelProvider) Health(ctx context.Context) error { return nil }

type otelCounter struct{ c metric.Float64Counter }

func (c *otelCounter) Inc(delta float64, labels ...string) {
	c.c.Add(context.Background(), delta, metric.WithAttributes(attrsFromLabels(labels)...))
}

type otelGauge struct{ g metric.Float64UpDownCounter }

// Set is approximated as a delta from zero (OTEL has no native gauge-set
// instrument on the counter-family API); callers that need exact gauge
// semantics should track the previous value and call Add with the delta.
func (g *otelGauge) Set(v float64, labels ...string) {
	g.g.Add(context.Background(), v, metric.WithAttributes(attrsFromLabels(labels)...))
}
func (g *otelGauge) Add(delta float64, labels ...string) {
	g.g.Add(context.Background(), delta, metric.WithAttributes(attrsFromLabels(labels)...))
}

type otelHistogram struct{ h metric.Float64Histogram }

func (h *otelHistogram) Observe(v float64, labels ...string) {
	h.h.Record(context.Background(), v, metric.WithAttributes(attrsFromLabels(labels)...))
}

func attrsFromLabels(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
