package detector

import (
	"context"
	"fmt"

	"bleak/driver"
	"bleak/internal/orchestrator"
	"bleak/report"
	"bleak/results"
)

// SnapshotCallback is the user-supplied per-snapshot hook EvaluateLeakFixes
// forwards every snapshot to, in addition to CSV reporting (spec.md §4.7
// "snapshotCb passthrough"). Errors are caught and logged, never fatal.
type SnapshotCallback func(ctx context.Context, snap driver.HeapSnapshot, metric string, leaksFixed, iterationCount int) error

// ResumePoint identifies where a previous EvaluateLeakFixes run left off
// (spec.md §4.7 "resume semantics").
type ResumePoint struct {
	Metric     string
	LeaksFixed int
}

// EvaluateLeakFixes implements spec.md §4.7: for every (metric, leaksFixed)
// pair in the spec's iteration order, replay the workload with that prefix
// of the metric's leak IDs fixed, under the crash-resilient wrapper, and
// report heap-size metrics to csv and to cb.
func (d *Detector) EvaluateLeakFixes(ctx context.Context, iterations, iterationsPerSnapshot int, csv *report.CSVWriter, cb SnapshotCallback, resumeAt *ResumePoint) error {
	if err := d.transition(EvaluatingFixes); err != nil {
		return err
	}
	defer func() { d.state = Done }()

	cfg := d.Config()
	skipping := resumeAt != nil

	for _, metric := range cfg.Leaks.Keys {
		ids := cfg.Leaks.Get(metric)

		startFixed := 0
		if skipping {
			if metric != resumeAt.Metric {
				continue
			}
			startFixed = resumeAt.LeaksFixed
			skipping = false
		}

		for leaksFixed := startFixed; leaksFixed <= len(ids); leaksFixed++ {
			if err := d.evaluatePair(ctx, metric, ids[:leaksFixed], leaksFixed, iterations, iterationsPerSnapshot, csv, cb); err != nil {
				return err
			}

			relaunched, err := d.Driver.Relaunch(ctx)
			if err != nil {
				return fmt.Errorf("detector: evaluateLeakFixes: relaunch between pairs: %w", err)
			}
			d.Driver = relaunched
		}
	}

	return d.Driver.Shutdown(ctx)
}

// evaluatePair configures the proxy for one (metric, leaksFixed) pair and
// replays the workload under the crash-resilient wrapper (spec.md §4.7
// steps 1-2). It owns one report.Buffer per attempt so a crashed attempt's
// rows are discarded and only a successful attempt's rows are flushed
// (SPEC_FULL.md §5).
func (d *Detector) evaluatePair(ctx context.Context, metric string, fixes []int, leaksFixed, iterations, iterationsPerSnapshot int, csv *report.CSVWriter, cb SnapshotCallback) error {
	if err := d.Configurator.Configure(false, fixes, true, true); err != nil {
		return fmt.Errorf("detector: evaluateLeakFixes: configure proxy (%s, %d): %w", metric, leaksFixed, err)
	}

	var buf *report.Buffer
	var iterationCount int

	attempt := func(ctx context.Context, drv driver.Driver) error {
		buf = csv.Attempt()
		iterationCount = 0

		exec := d.newExecution(drv)
		sink := func(ctx context.Context, snap driver.HeapSnapshot) error {
			iterationCount++
			metrics, err := calculateSize(ctx, snap)
			if err != nil {
				return err
			}
			buf.Add(report.MetricRow{Metric: metric, LeaksFixed: leaksFixed, IterationCount: iterationCount, Metrics: metrics})
			if cb != nil {
				if cerr := safeInvoke(func() error { return cb(ctx, snap, metric, leaksFixed, iterationCount) }); cerr != nil && d.Logger != nil {
					d.Logger.Warn("bleak: snapshot callback failed, continuing", "error", cerr, "metric", metric, "leaksFixed", leaksFixed)
				}
			}
			return nil
		}
		return exec.Run(ctx, iterations, true, sink, iterationsPerSnapshot, true)
	}

	newDriver, err := orchestrator.RunResilient(ctx, d.Driver, attempt, func(err error) {
		if d.Logger != nil {
			d.Logger.Warn("bleak: evaluate-fixes attempt crashed, retrying", "error", err, "metric", metric, "leaksFixed", leaksFixed)
		}
	})
	d.Driver = newDriver
	if err != nil {
		return fmt.Errorf("detector: evaluateLeakFixes: (%s, %d): %w", metric, leaksFixed, err)
	}

	return buf.Flush()
}

// safeInvoke recovers a panic from fn into an error, matching the
// orchestrator's own recover-to-error discipline for suspension callbacks
// (SPEC_FULL.md §8.1).
func safeInvoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// calculateSize pins down spec.md §4.7 step 3's HeapGraph.calculateSize()
// (SPEC_FULL.md §6.1) against the reduced driver.Graph shape: node/edge
// counts are exact, Strings counts distinct edge (property) names, and
// TotalBytes is a deterministic proxy — real retained-size accounting is
// out of scope (spec.md §1) — summing edge-name bytes plus a fixed
// per-node overhead.
func calculateSize(ctx context.Context, snap driver.HeapSnapshot) (results.HeapMetrics, error) {
	g, err := snap.Parse(ctx)
	if err != nil {
		return results.HeapMetrics{}, fmt.Errorf("detector: parse snapshot for metrics: %w", err)
	}

	nodes := map[string]bool{}
	names := map[string]bool{}
	totalBytes := 0
	for _, r := range g.Roots {
		nodes[r] = true
	}
	for _, e := range g.Edges {
		nodes[e.From] = true
		nodes[e.To] = true
		names[e.Name] = true
		totalBytes += len(e.Name)
	}
	totalBytes += len(nodes) * 64

	return results.HeapMetrics{
		Nodes:      len(nodes),
		Edges:      len(g.Edges),
		Strings:    len(names),
		TotalBytes: totalBytes,
	}, nil
}
