package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements Provider backed by a Prometheus registry,
// grounded on the teacher's engine/telemetry/metrics.PrometheusProvider —
// scaled down to the instruments bleak's controllers actually emit.
type PrometheusProvider struct {
	reg *prom.Registry

	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	gauges     map[string]*prom.GaugeVec
	histograms map[string]*prom.HistogramVec

	handler http.Handler
}

// NewPrometheusProvider returns a PrometheusProvider with its own registry.
func NewPrometheusProvider() *PrometheusProvider {
	reg := prom.NewRegistry()
	return &PrometheusProvider{
		reg:        reg,
		counters:   map[string]*prom.CounterVec{},
		gauges:     map[string]*prom.GaugeVec{},
		histograms: map[string]*prom.HistogramVec{},
		handler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// Handler returns the /metrics HTTP handler for this provider's registry.
func (p *PrometheusProvider) Handler() http.Handler { return p.handler }

func fqName(c CommonOpts) string {
	fq := c.Name
	if c.Subsystem != "" {
		fq = c.Subsystem + "_" + fq
	}
	if c.Namespace != "" {
		fq = c.Namespace + "_" + fq
	}
	return fq
}

func (p *PrometheusProvider) NewCounter(opts CounterOpts) Counter {
	fq := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	if cv, ok := p.counters[fq]; ok {
		return &promCounter{cv: cv}
	}
	cv := prom.NewCounterVec(prom.CounterOpts{Name: fq, Help: opts.Help}, opts.Labels)
	if err := p.reg.Register(cv); err != nil {
		var are prom.AlreadyRegisteredError
		if errors.As(err, &are) {
			cv = are.ExistingCollector.(*prom.CounterVec)
		} else {
			return noopCounter{}
		}
	}
	p.counters[fq] = cv
	return &promCounter{cv: cv}
}

func (p *PrometheusProvider) NewGauge(opts GaugeOpts) Gauge {
	fq := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	if gv, ok := p.gauges[fq]; ok {
		return &promGauge{gv: gv}
	}
	gv := prom.NewGaugeVec(prom.GaugeOpts{Name: fq, Help: opts.Help}, opts.Labels)
	if err := p.reg.Register(gv); err != nil {
		var are prom.AlreadyRegisteredError
		if errors.As(err, &are) {
			gv = are.ExistingCollector.(*prom.GaugeVec)
		} else {
			return noopGauge{}
		}
	}
	p.gauges[fq] = gv
	return &promGauge{gv: gv}
}

func (p *PrometheusProvider) NewHistogram(opts HistogramOpts) Histogram {
	fq := fqName(opts.CommonOpts)
	p.mu.Lock()
	defer p.mu.Unlock()
	if hv, ok := p.histograms[fq]; ok {
		return &promHistogram{hv: hv}
	}
	hv := prom.NewHistogramVec(prom.HistogramOpts{Name: fq, Help: opts.Help, Buckets: opts.Buckets}, opts.Labels)
	if err := p.reg.Register(hv); err != nil {
		var are prom.AlreadyRegisteredError
		if errors.As(err, &are) {
			hv = are.ExistingCollector.(*prom.HistogramVec)
		} else {
			return noopHistogram{}
		}
	}
	p.histograms[fq] = hv
	return &promHistogram{hv: hv}
}

func (p *PrometheusProvider) Health(ctx context.Context) error { return nil }

type promCounter struct{ cv *prom.CounterVec }

func (c *promCounter) Inc(delta float64, labels ...string) { c.cv.WithLabelValues(labels...).Add(delta) }

type promGauge struct{ gv *prom.GaugeVec }

func (g *promGauge) Set(v float64, labels ...string)     { g.gv.WithLabelValues(labels...).Set(v) }
func (g *promGauge) Add(delta float64, labels ...string) { g.gv.WithLabelValues(labels...).Add(delta) }

type promHistogram struct{ hv *prom.HistogramVec }

func (h *promHistogram) Observe(v float64, labels ...string) { h.hv.WithLabelValues(labels...).Observe(v) }
