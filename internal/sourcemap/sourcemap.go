// Package sourcemap defines the stack-frame resolver contract (spec.md §6):
// converting raw page-side stack frames (URL + line + column, against
// rewritten/bundled JS) into file/line/column coordinates in original
// source. The real source-map format and lookup (e.g. consuming the
// proxy's .map cache) is an external collaborator out of scope for this
// module (spec.md §1); only the contract plus a pass-through reference
// resolver, sufficient for unmapped or already-original sources, live here.
package sourcemap

import (
	"context"

	"bleak/results"
)

// Resolver maps a raw page-side stack frame to its resolved, original-source
// coordinates.
type Resolver interface {
	Resolve(ctx context.Context, frame results.RawStackFrame) (results.ResolvedFrame, error)
}

// PassThrough is a Resolver that treats every raw frame's URL as already
// being the original source file — used when no source map is registered
// for a given rewritten URL, or in tests.
type PassThrough struct{}

// Resolve implements Resolver.
func (PassThrough) Resolve(ctx context.Context, frame results.RawStackFrame) (results.ResolvedFrame, error) {
	return results.ResolvedFrame{File: frame.File, Line: frame.Line, Column: frame.Column}, nil
}

// Cache registers a Resolver per rewritten URL, falling back to PassThrough
// for URLs with no registered map — the shape of "the proxy's source map
// cache" referenced by spec.md §4.6 step 9, without a real source-map
// implementation behind it.
type Cache struct {
	byURL map[string]Resolver
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{byURL: map[string]Resolver{}}
}

// Register associates url with resolver.
func (c *Cache) Register(url string, resolver Resolver) {
	c.byURL[url] = resolver
}

// Resolve implements Resolver, dispatching by frame.File (the frame's script
// URL).
func (c *Cache) Resolve(ctx context.Context, frame results.RawStackFrame) (results.ResolvedFrame, error) {
	if r, ok := c.byURL[frame.File]; ok {
		return r.Resolve(ctx, frame)
	}
	return PassThrough{}.Resolve(ctx, frame)
}
