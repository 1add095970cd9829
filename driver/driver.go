// Package driver defines the browser driver contract (spec.md §6). The
// driver's own implementation — real CDP eval, heap snapshot acquisition,
// crash/relaunch handling — is an external collaborator out of scope for
// this module; only the contract, plus a couple of swappable reference
// backends (driver/fake for tests, driver/rod for a real browser), live
// here.
package driver

import "context"

// HeapSnapshot is a lazy byte-stream parser (spec.md §3): each snapshot is
// consumed exactly once by the growth tracker. The wire format itself is out
// of scope; Parse returns whatever graph representation the growth tracker's
// contract expects.
type HeapSnapshot interface {
	// Parse lazily materializes the snapshot's graph. Implementations may
	// stream the underlying bytes; callers must not call Parse twice.
	Parse(ctx context.Context) (Graph, error)
}

// Graph is the minimal heap-graph shape the growth tracker needs: named
// nodes reachable from a small set of GC roots, with directed edges labeled
// by the property name used to reach them (spec.md GLOSSARY "Path tree").
// The real V8 .heapsnapshot format carries far more (retained sizes, types,
// string tables); that parser is out of scope (spec.md §1) — this is the
// reduced shape every reference/production HeapSnapshot.Parse must produce.
type Graph struct {
	Roots []string
	Edges []Edge
}

// Edge is one heap-graph edge: From --Name--> To. Both ends are node ids
// local to one Graph.
type Edge struct {
	From, To string
	Name     string
}

// Driver is the browser driver contract (spec.md §6).
type Driver interface {
	// NavigateTo loads url and resolves when loaded.
	NavigateTo(ctx context.Context, url string) error
	// RunCode evaluates source in page context and decodes the
	// JSON-serializable result into out (which must be a pointer, or nil to
	// discard the result).
	RunCode(ctx context.Context, source string, out any) error
	// TakeHeapSnapshot returns an opaque parser immediately; parsing may be
	// lazy.
	TakeHeapSnapshot(ctx context.Context) (HeapSnapshot, error)
	// Relaunch kills and restarts the browser, returning a new driver handle
	// sharing the same proxy. The receiver must not be used afterward.
	Relaunch(ctx context.Context) (Driver, error)
	// Shutdown releases all driver resources.
	Shutdown(ctx context.Context) error
	// ProxyAddr returns the address of the interception proxy this driver's
	// browser is configured to route through, for wiring into a
	// proxyhost.Proxy implementation.
	ProxyAddr() string
}
