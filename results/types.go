// Package results holds the LeakRoot/Results data model (spec.md §3) and the
// path-tree projection the page-side instrumentation hook consumes.
package results

// HeapPath is one heap-graph path reaching a leak root, e.g.
// ["window", "app", "_listeners"].
type HeapPath []string

// RawStackFrame is one page-side stack frame as reported by
// window.$$$GET_STACK_TRACES$$$ (spec.md §6), before source-map resolution.
type RawStackFrame struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"col"`
}

// RawStacks is the raw harvest from the page: leak root id -> stacks, each
// stack a sequence of frames (spec.md §3 GrowthStacks).
type RawStacks map[int][][]RawStackFrame

// Stack is a resolved stack trace: each frame has passed through the
// source-map resolver (spec.md §4.6 step 9).
type Stack struct {
	Frames []ResolvedFrame `json:"frames"`
}

// ResolvedFrame is a stack frame after source-map resolution.
type ResolvedFrame struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"col"`
}

// LeakRoot is a heap object whose retained-object count grows monotonically
// across observed loop iterations (spec.md §3, GLOSSARY). ID is dense and
// stable across the run, assigned by the growth tracker.
type LeakRoot struct {
	ID     int        `json:"id"`
	Paths  []HeapPath `json:"paths"`
	Stacks []Stack    `json:"stacks"`
}

// HeapMetrics is the concrete field set behind spec.md §4.7's
// HeapGraph.calculateSize() (pinned down per SPEC_FULL.md §6.1) so the CSV
// column set is fixed across all rows.
type HeapMetrics struct {
	Nodes      int `json:"nodes"`
	Edges      int `json:"edges"`
	Strings    int `json:"strings"`
	TotalBytes int `json:"totalBytes"`
}
