// Package fake implements proxyhost.Proxy as an in-memory call recorder,
// used by controller tests to assert the exact configuration sequence
// spec.md §4.5-§4.7 dispatch per phase.
package fake

import (
	"sync"

	"bleak/proxyhost"
)

// Call records one Configure invocation.
type Call struct {
	RewriteJS          bool
	Fixes              []int
	Preamble           string
	DisableAllRewrites bool
	HasRewriteFn       bool
}

// Proxy is a proxyhost.Proxy that records every Configure call in order and
// never actually rewrites anything.
type Proxy struct {
	mu    sync.Mutex
	addr  string
	calls []Call
}

// New returns a Proxy reporting addr from Addr().
func New(addr string) *Proxy {
	if addr == "" {
		addr = "fake-proxy:0"
	}
	return &Proxy{addr: addr}
}

func (p *Proxy) Configure(rewriteJS bool, fixes []int, preamble string, disableAllRewrites bool, rewriteFn proxyhost.RewriteFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{
		RewriteJS:          rewriteJS,
		Fixes:              append([]int(nil), fixes...),
		Preamble:           preamble,
		DisableAllRewrites: disableAllRewrites,
		HasRewriteFn:       rewriteFn != nil,
	})
	return nil
}

func (p *Proxy) Addr() string { return p.addr }

// Calls returns every Configure call observed so far, in order.
func (p *Proxy) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}
