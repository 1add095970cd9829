// Package detector implements the three controllers spec.md §4.5-§4.7
// describe and the lifecycle state machine that gates which of them a given
// instance may run (spec.md §4.8): find growing heap paths, diagnose them
// into attributed stack traces, or replay the workload under a candidate
// fix set while reporting heap-size metrics.
package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"bleak/config"
	"bleak/driver"
	"bleak/internal/growth"
	"bleak/internal/looprunner"
	"bleak/internal/orchestrator"
	"bleak/internal/proxycfg"
	"bleak/internal/sourcemap"
	"bleak/internal/stepengine"
	"bleak/proxyhost"
	"bleak/report"
	"bleak/results"
)

// Detector owns one driver/proxy pair across its lifecycle and caches the
// leak roots found by FindLeakPaths for a subsequent DiagnoseLeaks call
// (spec.md §4.5 step 3 "cache the resulting roots on the detector
// instance").
type Detector struct {
	Driver       driver.Driver
	Configurator *proxycfg.Configurator
	SourceMaps   *sourcemap.Cache
	Logger       *slog.Logger

	// PostLoginSettle overrides orchestrator.PostLoginSettle for every
	// execute() this detector runs; zero means use the orchestrator default.
	PostLoginSettle time.Duration

	// SettleDelay overrides the step engine's post-check settle delay for
	// every phase this detector drives; zero means the engine default.
	SettleDelay time.Duration

	state     State
	leakRoots []results.LeakRoot
}

// newExecution returns an orchestrator.Execution wired to d, inheriting the
// detector's logger and PostLoginSettle override.
func (d *Detector) newExecution(drv driver.Driver) *orchestrator.Execution {
	exec := orchestrator.New(drv, d.Config())
	exec.Logger = d.Logger
	exec.PostLoginSettle = d.PostLoginSettle
	exec.SettleDelay = d.SettleDelay
	return exec
}

// New materializes source against proxy and returns a Constructed Detector
// wired to d.
func New(d driver.Driver, proxy proxyhost.Proxy, source string) (*Detector, error) {
	configurator, err := proxycfg.New(proxy, source)
	if err != nil {
		return nil, fmt.Errorf("detector: construct: %w", err)
	}
	return &Detector{
		Driver:       d,
		Configurator: configurator,
		SourceMaps:   sourcemap.NewCache(),
		Logger:       slog.Default(),
		state:        Constructed,
	}, nil
}

// Config returns the materialized ConfigurationFile the controllers consult.
func (d *Detector) Config() *config.ConfigurationFile { return d.Configurator.Config }

// LeakRoots returns the roots cached by the most recent FindLeakPaths call.
func (d *Detector) LeakRoots() []results.LeakRoot { return d.leakRoots }

// FindLeakPaths implements spec.md §4.5.
func (d *Detector) FindLeakPaths(ctx context.Context) ([]results.LeakRoot, error) {
	if err := d.transition(FindingPaths); err != nil {
		return nil, err
	}

	cfg := d.Config()
	if err := d.Configurator.Configure(false, cfg.FixedLeaks, false, true); err != nil {
		return nil, fmt.Errorf("detector: findLeakPaths: configure proxy: %w", err)
	}

	tracker := growth.New()
	exec := d.newExecution(d.Driver)
	sink := func(ctx context.Context, snap driver.HeapSnapshot) error {
		return tracker.AddSnapshot(ctx, snap)
	}
	if err := exec.Run(ctx, cfg.Iterations, true, sink, 1, false); err != nil {
		return nil, fmt.Errorf("detector: findLeakPaths: execute: %w", err)
	}

	roots, err := tracker.FindLeakPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("detector: findLeakPaths: %w", err)
	}
	d.leakRoots = roots
	return roots, nil
}

// DiagnoseLeaks implements spec.md §4.6. It may only follow FindLeakPaths on
// the same detector (the lifecycle allows Diagnosing only from
// FindingPaths); leakRoots is normally that call's result, but is taken as a
// parameter per the operation's signature, so the caller chooses which
// roots are diagnosed.
func (d *Detector) DiagnoseLeaks(ctx context.Context, leakRoots []results.LeakRoot, leaksPath, pathsPath string) (*results.Results, error) {
	if err := d.transition(Diagnosing); err != nil {
		return nil, err
	}
	defer func() { d.state = Done }()

	res := results.New(leakRoots)

	tree := results.ToPathTree(leakRoots)
	if err := report.WriteJSON(leaksPath, tree); err != nil {
		return nil, fmt.Errorf("detector: diagnoseLeaks: write leaks.json: %w", err)
	}
	if len(leakRoots) > 0 {
		if err := report.WriteJSON(pathsPath, tree); err != nil {
			return nil, fmt.Errorf("detector: diagnoseLeaks: write paths.json: %w", err)
		}
	}
	if len(leakRoots) == 0 {
		return res.Compact(), nil
	}

	cfg := d.Config()
	if err := d.Configurator.Configure(true, cfg.FixedLeaks, false, true); err != nil {
		return nil, fmt.Errorf("detector: diagnoseLeaks: configure proxy: %w", err)
	}

	exec := d.newExecution(d.Driver)
	if err := exec.Run(ctx, 1, false, nil, 1, false); err != nil {
		return nil, fmt.Errorf("detector: diagnoseLeaks: warm run: %w", err)
	}

	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("detector: diagnoseLeaks: marshal path tree: %w", err)
	}
	instrumentSrc := fmt.Sprintf(`window.$$$INSTRUMENT_PATHS$$$(%s)`, string(treeJSON))
	if err := d.Driver.RunCode(ctx, instrumentSrc, nil); err != nil {
		return nil, fmt.Errorf("detector: diagnoseLeaks: instrument paths: %w", err)
	}

	engine := stepengine.New(d.Driver, cfg)
	if d.SettleDelay > 0 {
		engine.SettleDelay = d.SettleDelay
	}
	runner := looprunner.New(engine)
	for i := 0; i < 2; i++ {
		if _, err := runner.Run(ctx, "loop", true, false); err != nil {
			return nil, fmt.Errorf("detector: diagnoseLeaks: accumulation loop %d: %w", i, err)
		}
	}

	var raw results.RawStacks
	if err := d.Driver.RunCode(ctx, `window.$$$GET_STACK_TRACES$$$()`, &raw); err != nil {
		return nil, fmt.Errorf("detector: diagnoseLeaks: get stack traces: %w", err)
	}

	for id, stacks := range raw {
		for _, frames := range stacks {
			stack, err := d.resolveStack(ctx, frames)
			if err != nil {
				return nil, fmt.Errorf("detector: diagnoseLeaks: resolve stack: %w", err)
			}
			res.AddStack(id, stack)
		}
	}

	return res.Compact(), nil
}

// resolveStack resolves a raw stack's frames in order. A frame with no
// mapping entry still passes through PassThrough, so the tie-break "treat a
// raw stack with no mapping entry as the empty sequence" only matters when
// frames itself is empty (spec.md §4.6 tie-breaks) — an empty frame list
// round-trips to an empty Stack.
func (d *Detector) resolveStack(ctx context.Context, frames []results.RawStackFrame) (results.Stack, error) {
	resolved := make([]results.ResolvedFrame, 0, len(frames))
	for _, f := range frames {
		rf, err := d.SourceMaps.Resolve(ctx, f)
		if err != nil {
			return results.Stack{}, err
		}
		resolved = append(resolved, rf)
	}
	return results.Stack{Frames: resolved}, nil
}
