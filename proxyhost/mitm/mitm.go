// Package mitm implements proxyhost.Proxy over a real man-in-the-middle
// HTTP proxy (github.com/elazarl/goproxy). It is a reference backend:
// cmd/bleak may select it, but detector and internal/* never import it, so
// the core controllers stay proxy-agnostic. The page-side instrumentation
// hooks themselves ($$$INSTRUMENT_PATHS$$$ and friends) are supplied by the
// rewrite layer's injected JS, which is out of scope here — this backend
// covers config injection, fix application via the config's rewrite
// function, and the disableAllRewrites kill-switch.
package mitm

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/elazarl/goproxy"

	"bleak/proxyhost"
)

// settings is one Configure call's worth of proxy state, swapped atomically
// so an in-flight response sees either the old or the new configuration,
// never a mix (spec.md §5 "shared state mutated only by Proxy Configurator
// between phases, never during them").
type settings struct {
	rewriteJS          bool
	fixes              []int
	preamble           string
	disableAllRewrites bool
	rewriteFn          proxyhost.RewriteFunc
}

// Proxy is a listening goproxy.ProxyHttpServer that injects the
// window.BLeakConfig preamble into every HTML response and applies the
// configured rewrite function to rewritable bodies.
type Proxy struct {
	mu       sync.RWMutex
	settings settings

	ln  net.Listener
	srv *http.Server
}

// New starts a proxy listening on addr (host:port; ":0" picks a free port).
// Callers must Close it when done.
func New(addr string) (*Proxy, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mitm: listen %s: %w", addr, err)
	}

	p := &Proxy{ln: ln}

	ph := goproxy.NewProxyHttpServer()
	ph.OnRequest().HandleConnect(goproxy.AlwaysMitm)
	ph.OnResponse().DoFunc(p.handleResponse)

	p.srv = &http.Server{Handler: ph}
	go func() { _ = p.srv.Serve(ln) }()

	return p, nil
}

// Configure implements proxyhost.Proxy. Takes effect on the next response
// the proxy sees; idempotent.
func (p *Proxy) Configure(rewriteJS bool, fixes []int, preamble string, disableAllRewrites bool, rewriteFn proxyhost.RewriteFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings = settings{
		rewriteJS:          rewriteJS,
		fixes:              append([]int(nil), fixes...),
		preamble:           preamble,
		disableAllRewrites: disableAllRewrites,
		rewriteFn:          rewriteFn,
	}
	return nil
}

// Addr returns the proxy's listen address for a driver's --proxy-server
// wiring.
func (p *Proxy) Addr() string { return p.ln.Addr().String() }

// Close stops the listener and, per http.Server.Close, closes active
// connections immediately; in-flight responses are not drained.
func (p *Proxy) Close() error { return p.srv.Close() }

func (p *Proxy) handleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil || resp.Body == nil {
		return resp
	}

	p.mu.RLock()
	s := p.settings
	p.mu.RUnlock()

	mime := resp.Header.Get("Content-Type")
	switch {
	case isHTML(mime):
		if s.preamble == "" {
			return resp
		}
		return replaceBody(resp, func(body []byte) []byte {
			return injectPreamble(body, s.preamble)
		})
	case rewritable(mime):
		// The kill-switch suppresses rewriteJS and fixes while injection
		// still occurs on HTML responses (spec.md §6).
		if s.disableAllRewrites || s.rewriteFn == nil {
			return resp
		}
		if !s.rewriteJS && len(s.fixes) == 0 {
			return resp
		}
		url := ""
		if ctx != nil && ctx.Req != nil && ctx.Req.URL != nil {
			url = ctx.Req.URL.String()
		}
		return replaceBody(resp, func(body []byte) []byte {
			out, err := s.rewriteFn(url, mime, body, s.fixes)
			if err != nil {
				// A failed rewrite must not break the page load; serve the
				// original body. The controller observes the consequence as
				// an undiagnosed leak, not a dead app.
				return body
			}
			return out
		})
	default:
		return resp
	}
}

// replaceBody drains resp's body, transforms it, and reinstalls it with a
// corrected Content-Length. On read failure the response is passed through
// untouched with whatever remains of its body.
func replaceBody(resp *http.Response, transform func([]byte) []byte) *http.Response {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp
	}
	out := transform(body)
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(out)))
	return resp
}

// injectPreamble inserts the config-injection snippet into an HTML document
// before the first <script> (spec.md §6 "inserted into every HTML response
// before the first <script>"); documents with no script tag get it right
// after <head>, or prepended as a last resort, so BLeakConfig is installed
// before any application code can run.
func injectPreamble(body []byte, preamble string) []byte {
	tag := []byte("<script>" + preamble + "</script>")
	lower := bytes.ToLower(body)

	insertAt := -1
	if i := bytes.Index(lower, []byte("<script")); i >= 0 {
		insertAt = i
	} else if i := bytes.Index(lower, []byte("<head>")); i >= 0 {
		insertAt = i + len("<head>")
	}
	if insertAt < 0 {
		return append(append([]byte{}, tag...), body...)
	}

	out := make([]byte, 0, len(body)+len(tag))
	out = append(out, body[:insertAt]...)
	out = append(out, tag...)
	out = append(out, body[insertAt:]...)
	return out
}

func isHTML(mime string) bool {
	return strings.Contains(mime, "text/html")
}

// rewritable reports whether a response body is a candidate for the rewrite
// function: JavaScript in any of its common MIME spellings.
func rewritable(mime string) bool {
	for _, m := range []string{"javascript", "ecmascript"} {
		if strings.Contains(mime, m) {
			return true
		}
	}
	return false
}
