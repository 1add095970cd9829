// Package looprunner implements spec.md §4.2: sequencing a phase's steps,
// optionally confirming the loop returned to a quiescent initial state, and
// optionally taking a heap snapshot at the boundary.
package looprunner

import (
	"context"

	"bleak/config"
	"bleak/driver"
	"bleak/internal/stepengine"
)

// Runner drives one phase's steps via a stepengine.Engine.
type Runner struct {
	Engine *stepengine.Engine
	Driver driver.Driver
	Config *config.ConfigurationFile
}

// New returns a Runner sharing engine's driver/config.
func New(engine *stepengine.Engine) *Runner {
	return &Runner{Engine: engine, Driver: engine.Driver, Config: engine.Config}
}

// Run executes phase's steps in order (spec.md §4.2). If isLoop, it confirms
// the loop returned to step 0's quiescent state after the last step. If
// snapshotAtEnd, it acquires and returns a heap snapshot; otherwise the
// returned snapshot is nil.
func (r *Runner) Run(ctx context.Context, phase string, isLoop bool, snapshotAtEnd bool) (driver.HeapSnapshot, error) {
	steps := r.Config.Steps(phase)
	if len(steps) == 0 {
		return nil, nil
	}

	for i := range steps {
		if err := r.Engine.NextStep(ctx, phase, i, 0); err != nil {
			return nil, err
		}
	}

	if isLoop {
		if err := r.Engine.WaitUntilTrue(ctx, phase, 0, 0); err != nil {
			return nil, err
		}
	}

	if !snapshotAtEnd {
		return nil, nil
	}
	return r.Driver.TakeHeapSnapshot(ctx)
}
