// Package growth implements the growth tracker contract (spec.md §3, §4.5):
// ingest heap snapshots in order and identify heap-graph paths whose fanout
// grows monotonically across every observed iteration. The real BLeak
// algorithm compares retained-object counts on matched objects across
// snapshots; this reference implementation approximates the same signal from
// the reduced driver.Graph shape (spec.md §1 scopes the real V8 heap-graph
// diffing algorithm out) by tracking, for every distinct parent path reached
// from a root, how many distinct child edges hang off it in each snapshot —
// an array or map that keeps growing shows up as a strictly increasing
// fanout at its own path.
package growth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bleak/driver"
	"bleak/results"
)

// Tracker ingests snapshots in strict temporal order and, once at least two
// have been observed, can report the leak roots found so far.
type Tracker interface {
	AddSnapshot(ctx context.Context, snap driver.HeapSnapshot) error
	FindLeakPaths(ctx context.Context) ([]results.LeakRoot, error)
}

// FanoutTracker is the reference Tracker described in the package doc.
type FanoutTracker struct {
	snapshotCount int
	fanout        map[string][]int // pathKey -> fanout observed per snapshot, in order
	segments      map[string][]string
	rootOrder     []string // pathKey, in first-observed order, for stable dense ids
}

// New returns an empty FanoutTracker.
func New() *FanoutTracker {
	return &FanoutTracker{
		fanout:   map[string][]int{},
		segments: map[string][]string{},
	}
}

// AddSnapshot parses snap and folds its per-path fanout into the tracker
// (spec.md §5 "snapshots are delivered in the exact order they are taken").
func (t *FanoutTracker) AddSnapshot(ctx context.Context, snap driver.HeapSnapshot) error {
	g, err := snap.Parse(ctx)
	if err != nil {
		return fmt.Errorf("growth: parse snapshot: %w", err)
	}
	observed := fanoutByPath(g)

	newKeys := make([]string, 0, len(observed.segments))
	for key := range observed.segments {
		if _, ok := t.segments[key]; !ok {
			newKeys = append(newKeys, key)
		}
	}
	sort.Strings(newKeys)
	for _, key := range newKeys {
		t.segments[key] = observed.segments[key]
		t.rootOrder = append(t.rootOrder, key)
	}
	// Every path seen in any snapshot gets a slot for this snapshot index,
	// defaulting to 0 fanout if absent here, so sequences stay aligned and a
	// path that stops appearing is not mistaken for monotonic growth.
	seen := map[string]bool{}
	for key, n := range observed.fanout {
		t.fanout[key] = append(t.fanout[key], n)
		seen[key] = true
	}
	for key := range t.segments {
		if !seen[key] {
			t.fanout[key] = append(t.fanout[key], 0)
		}
	}
	t.snapshotCount++
	return nil
}

// FindLeakPaths returns the dense-id leak roots whose fanout strictly
// increased across every consecutive pair of observed snapshots (spec.md §3
// invariant: "accepts snapshots in strict temporal order; leak roots may
// only be requested after ≥2 snapshots").
func (t *FanoutTracker) FindLeakPaths(ctx context.Context) ([]results.LeakRoot, error) {
	if t.snapshotCount < 2 {
		return nil, fmt.Errorf("growth: findLeakPaths requires >=2 snapshots, have %d", t.snapshotCount)
	}

	var roots []results.LeakRoot
	id := 0
	for _, key := range t.rootOrder {
		if isMonotonicallyIncreasing(t.fanout[key]) {
			roots = append(roots, results.LeakRoot{
				ID:    id,
				Paths: []results.HeapPath{append([]string(nil), t.segments[key]...)},
			})
			id++
		}
	}
	return roots, nil
}

func isMonotonicallyIncreasing(series []int) bool {
	if len(series) < 2 {
		return false
	}
	for i := 1; i < len(series); i++ {
		if series[i] <= series[i-1] {
			return false
		}
	}
	return true
}

type fanoutObservation struct {
	fanout   map[string]int
	segments map[string][]string
}

// fanoutByPath walks g from every root, building for each reachable node's
// path-from-root key the number of distinct outgoing edge names — a node's
// own fanout, keyed by the path used to reach it the first time (BFS, so the
// shortest path wins ties, matching how the page would observe the object).
func fanoutByPath(g driver.Graph) fanoutObservation {
	children := map[string]map[string]bool{} // node id -> set of edge names out of it
	for _, e := range g.Edges {
		if children[e.From] == nil {
			children[e.From] = map[string]bool{}
		}
		children[e.From][e.Name] = true
	}

	pathOf := map[string][]string{} // node id -> path segments from its root
	visited := map[string]bool{}
	var queue []string
	for _, r := range g.Roots {
		if !visited[r] {
			visited[r] = true
			pathOf[r] = nil
			queue = append(queue, r)
		}
	}
	byFrom := map[string][]driver.Edge{}
	for _, e := range g.Edges {
		byFrom[e.From] = append(byFrom[e.From], e)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range byFrom[cur] {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			pathOf[e.To] = append(append([]string(nil), pathOf[cur]...), e.Name)
			queue = append(queue, e.To)
		}
	}

	out := fanoutObservation{fanout: map[string]int{}, segments: map[string][]string{}}
	for nodeID, segs := range pathOf {
		key := pathKey(segs)
		out.segments[key] = segs
		out.fanout[key] = len(children[nodeID])
	}
	return out
}

func pathKey(segs []string) string {
	return strings.Join(segs, "\x00")
}
