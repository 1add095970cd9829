// Package proxyhost defines the interception proxy contract (spec.md §6):
// pushing JS-rewrite/fix configuration and a config-injection preamble to a
// man-in-the-middle proxy sitting between the browser and the app under
// test. The proxy's own rewriting/injection internals are an external
// collaborator out of scope for this module (spec.md §1); only the contract,
// plus swappable backends (proxyhost/fake for tests, proxyhost/mitm for a
// real MITM proxy), live here.
package proxyhost

// RewriteFunc is the config's optional `rewrite` callback, forwarded to the
// proxy for arbitrary content rewriting (spec.md §4.4). url and mimeType
// identify the response; in is the original body; the returned bytes
// replace it.
type RewriteFunc func(url, mimeType string, in []byte, fixes []int) ([]byte, error)

// Proxy is the interception proxy contract (spec.md §4.4, §6). Configure is
// idempotent and takes effect on the next HTTP response it sees.
type Proxy interface {
	// Configure installs rewrite/fix/injection settings. rewriteJS toggles
	// JS-rewrite instrumentation; fixes is the active fix-ID set; preamble is
	// inserted into every HTML response before the first <script>;
	// disableAllRewrites is a kill-switch that suppresses rewriteJS and fixes
	// for instrumentation purposes while injection still occurs; rewriteFn,
	// if non-nil, is consulted for arbitrary content rewriting.
	Configure(rewriteJS bool, fixes []int, preamble string, disableAllRewrites bool, rewriteFn RewriteFunc) error

	// Addr returns the proxy's listen address, for wiring into a driver's
	// browser launch configuration.
	Addr() string
}
