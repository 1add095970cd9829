package results

import "sort"

// Results aggregates leak roots, their attributed stacks, and optional
// heap-size metrics for a run (spec.md §3).
type Results struct {
	roots     map[int]*LeakRoot
	order     []int
	metrics   []HeapMetrics
	compacted bool
}

// New constructs an empty Results seeded with the given leak roots
// (spec.md §4.6 step 1: "Construct an empty Results(leakRoots)").
func New(leakRoots []LeakRoot) *Results {
	r := &Results{roots: make(map[int]*LeakRoot, len(leakRoots))}
	for i := range leakRoots {
		root := leakRoots[i]
		r.roots[root.ID] = &root
		r.order = append(r.order, root.ID)
	}
	return r
}

// AddStack attributes a resolved stack to a leak root id. Per spec.md §4.6
// tie-breaks, ids with no known root are dropped (there is nothing to
// attribute to).
func (r *Results) AddStack(id int, s Stack) {
	root, ok := r.roots[id]
	if !ok {
		return
	}
	root.Stacks = append(root.Stacks, s)
}

// AddMetrics records one heap-metrics sample (used by the evaluate-fixes
// flow; detection flows never populate this).
func (r *Results) AddMetrics(m HeapMetrics) { r.metrics = append(r.metrics, m) }

// LeakRoots returns leak roots in stable id order.
func (r *Results) LeakRoots() []LeakRoot {
	out := make([]LeakRoot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.roots[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Metrics returns the recorded heap-metrics samples in insertion order.
func (r *Results) Metrics() []HeapMetrics { return r.metrics }

// Compact normalizes the result set: leak roots are sorted by id, each
// root's stacks are deduplicated (by frame sequence) while preserving first
// occurrence order, and roots with no paths are dropped (spec.md §3
// invariant: "Every LeakRoot emitted has >=1 heap-graph path"). Compact is
// idempotent — applying it twice is a fixed point (spec.md §8).
func (r *Results) Compact() *Results {
	out := &Results{roots: make(map[int]*LeakRoot, len(r.roots)), compacted: true}
	ids := make([]int, 0, len(r.order))
	for id := range r.roots {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		root := r.roots[id]
		if len(root.Paths) == 0 {
			continue
		}
		cp := LeakRoot{ID: root.ID, Paths: root.Paths, Stacks: dedupeStacks(root.Stacks)}
		out.roots[id] = &cp
		out.order = append(out.order, id)
	}
	out.metrics = append([]HeapMetrics(nil), r.metrics...)
	return out
}

func dedupeStacks(stacks []Stack) []Stack {
	seen := make(map[string]bool, len(stacks))
	out := make([]Stack, 0, len(stacks))
	for _, s := range stacks {
		key := stackKey(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func stackKey(s Stack) string {
	key := make([]byte, 0, 32*len(s.Frames))
	for _, f := range s.Frames {
		key = append(key, []byte(f.File)...)
		key = append(key, ':')
		key = appendInt(key, f.Line)
		key = append(key, ':')
		key = appendInt(key, f.Column)
		key = append(key, '|')
	}
	return string(key)
}

func appendInt(b []byte, n int) []byte {
	if n == 0 {
		return append(b, '0')
	}
	neg := n < 0
	if neg {
		n = -n
	}
	start := len(b)
	for n > 0 {
		b = append(b, byte('0'+n%10))
		n /= 10
	}
	if neg {
		b = append(b, '-')
	}
	// reverse the digits just appended
	for i, j := start, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}
