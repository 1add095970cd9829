// Package orchestrator implements the Execution Orchestrator (spec.md §4.3):
// phase sequencing — navigate, login, setup, N loop iterations with periodic
// snapshots — and the crash-resilient retry wrapper fix-evaluation relies on.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bleak/berrors"
	"bleak/config"
	"bleak/driver"
	"bleak/internal/looprunner"
	"bleak/internal/stepengine"
)

// PostLoginSettle is the spec's fixed suspension after login, before
// re-navigating to config.url (spec.md §4.3 step 2).
const PostLoginSettle = 1 * time.Second

// SnapshotSink receives each heap snapshot execute takes, in order, and must
// be awaited to completion before the orchestrator proceeds (spec.md §5
// "suspension-callback hazard"). A panicking or erroring sink is caught and
// logged, never fatal to the run (SPEC_FULL.md §8.1).
type SnapshotSink func(ctx context.Context, snap driver.HeapSnapshot) error

// Execution runs one attempt of execute against a single driver/config pair.
type Execution struct {
	Driver driver.Driver
	Config *config.ConfigurationFile
	Logger *slog.Logger

	// PostLoginSettle overrides PostLoginSettle for this Execution; zero
	// means use the package default. Tests shrink this to avoid a real
	// 1-second sleep per run.
	PostLoginSettle time.Duration

	// SettleDelay overrides the step engine's post-check settle delay for
	// this Execution; zero means the engine default. Tests shrink this the
	// same way they shrink PostLoginSettle.
	SettleDelay time.Duration
}

// New returns an Execution wired to d and cfg.
func New(d driver.Driver, cfg *config.ConfigurationFile) *Execution {
	return &Execution{Driver: d, Config: cfg, Logger: slog.Default(), PostLoginSettle: PostLoginSettle}
}

// Run implements spec.md §4.3's execute operation.
func (e *Execution) Run(ctx context.Context, iterations int, runLogin bool, sink SnapshotSink, iterationsPerSnapshot int, snapshotOnFirst bool) error {
	if iterationsPerSnapshot <= 0 {
		iterationsPerSnapshot = 1
	}

	if err := e.Driver.NavigateTo(ctx, e.Config.URL); err != nil {
		return fmt.Errorf("orchestrator: navigate to %s: %w", e.Config.URL, err)
	}

	engine := stepengine.New(e.Driver, e.Config)
	if e.SettleDelay > 0 {
		engine.SettleDelay = e.SettleDelay
	}
	runner := looprunner.New(engine)

	if runLogin {
		if _, err := runner.Run(ctx, "login", false, false); err != nil {
			return fmt.Errorf("orchestrator: login phase: %w", err)
		}
		settle := e.PostLoginSettle
		if settle <= 0 {
			settle = PostLoginSettle
		}
		if err := sleepCtx(ctx, settle); err != nil {
			return err
		}
		if err := e.Driver.NavigateTo(ctx, e.Config.URL); err != nil {
			return fmt.Errorf("orchestrator: re-navigate after login: %w", err)
		}
	}

	if _, err := runner.Run(ctx, "setup", false, false); err != nil {
		return fmt.Errorf("orchestrator: setup phase: %w", err)
	}

	if sink != nil && snapshotOnFirst {
		if err := engine.WaitUntilTrue(ctx, "loop", 0, 0); err != nil {
			return fmt.Errorf("orchestrator: await loop quiescence before first snapshot: %w", err)
		}
		snap, err := e.Driver.TakeHeapSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("orchestrator: take first snapshot: %w", err)
		}
		e.deliver(ctx, sink, snap)
	}

	for i := 0; i < iterations; i++ {
		snapshotRun := sink != nil && (i+1)%iterationsPerSnapshot == 0
		snap, err := runner.Run(ctx, "loop", true, snapshotRun)
		if err != nil {
			return fmt.Errorf("orchestrator: loop iteration %d: %w", i, err)
		}
		if snapshotRun {
			e.deliver(ctx, sink, snap)
		}
	}
	return nil
}

// deliver invokes sink synchronously, recovering a panic into a logged
// berrors.SnapshotCallbackFailure — never fatal to the run (SPEC_FULL.md
// §8.1).
func (e *Execution) deliver(ctx context.Context, sink SnapshotSink, snap driver.HeapSnapshot) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return sink(ctx, snap)
	}()
	if err != nil {
		scf := &berrors.SnapshotCallbackFailure{Err: err}
		if e.Logger != nil {
			e.Logger.Warn("bleak: snapshot callback failed, continuing", "error", scf)
		}
	}
}

// RunResilient implements the crash-resilient wrapper (spec.md §4.3): retry
// attempt against successively relaunched drivers forever until it succeeds.
// attempt is responsible for its own buffered bookkeeping (e.g. a per-try
// CSV row buffer) — since a failed attempt's closure state is simply
// discarded on the next call, and a successful attempt flushes before
// returning nil, "discard on crash / flush on success" falls out of
// attempt's own control flow rather than anything orchestrator tracks.
// onRetry, if non-nil, is called with each failure before relaunching.
func RunResilient(ctx context.Context, d driver.Driver, attempt func(ctx context.Context, d driver.Driver) error, onRetry func(err error)) (driver.Driver, error) {
	for {
		if err := ctx.Err(); err != nil {
			return d, err
		}
		err := attempt(ctx, d)
		if err == nil {
			return d, nil
		}
		if onRetry != nil {
			onRetry(err)
		}
		nd, rerr := d.Relaunch(ctx)
		if rerr != nil {
			return d, fmt.Errorf("orchestrator: relaunch after crash: %w", rerr)
		}
		d = nd
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
