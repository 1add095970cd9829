package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopProvider_DiscardsEverything(t *testing.T) {
	p := NewNoopProvider()
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "x"}})
	c.Inc(1)
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "y"}})
	g.Set(2)
	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "z"}})
	h.Observe(3)
	require.NoError(t, p.Health(context.Background()))
}

func TestPrometheusProvider_RegistersAndRecords(t *testing.T) {
	p := NewPrometheusProvider()
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Namespace: "bleak", Name: "steps_polled_total", Labels: []string{"phase"}}})
	c.Inc(1, "loop")
	c.Inc(2, "loop")

	// Re-registering the same metric name must return the cached collector.
	c2 := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Namespace: "bleak", Name: "steps_polled_total", Labels: []string{"phase"}}})
	c2.Inc(1, "loop")

	assert.NotNil(t, p.Handler())
}
