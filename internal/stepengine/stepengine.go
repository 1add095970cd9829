// Package stepengine implements spec.md §4.1: advancing the workload one
// declarative step at a time, polling a page-side predicate until true or
// timeout.
package stepengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bleak/berrors"
	"bleak/config"
	"bleak/driver"
)

const (
	// DefaultPollInterval is the spec's fixed poll period (spec.md §4.1).
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultSettleDelay is the post-check "browser settle" suspension
	// before nextStep proceeds (spec.md §4.1 step b).
	DefaultSettleDelay = 500 * time.Millisecond
	// DefaultUndefinedEscalationThreshold is the number of consecutive
	// polls observing BLeakConfig as undefined before escalating to
	// berrors.ConfigNotInjected instead of waiting out the full timeout
	// (SPEC_FULL.md §8.2, resolving spec.md §9's second open question).
	DefaultUndefinedEscalationThreshold = 20
)

// Engine advances a ConfigurationFile's steps against a driver.Driver.
type Engine struct {
	Driver driver.Driver
	Config *config.ConfigurationFile

	PollInterval                 time.Duration
	SettleDelay                  time.Duration
	UndefinedEscalationThreshold int
	Logger                       *slog.Logger
}

// New returns an Engine with the spec's default cadences.
func New(d driver.Driver, cfg *config.ConfigurationFile) *Engine {
	return &Engine{
		Driver:                       d,
		Config:                       cfg,
		PollInterval:                 DefaultPollInterval,
		SettleDelay:                  DefaultSettleDelay,
		UndefinedEscalationThreshold: DefaultUndefinedEscalationThreshold,
		Logger:                       slog.Default(),
	}
}

// WaitUntilTrue polls BLeakConfig.<phase>[<index>].check() until it returns
// true or timeout elapses (spec.md §4.1). timeout<=0 uses Config.Timeout.
func (e *Engine) WaitUntilTrue(ctx context.Context, phase string, index int, timeout time.Duration) error {
	steps := e.Config.Steps(phase)
	if index < 0 || index >= len(steps) {
		return fmt.Errorf("stepengine: %s[%d] out of range (len=%d)", phase, index, len(steps))
	}
	step := steps[index]

	if step.Sleep > 0 {
		if err := sleepCtx(ctx, step.Sleep); err != nil {
			return err
		}
	}

	if timeout <= 0 {
		timeout = e.Config.Timeout
	}
	deadline := time.Now().Add(timeout)

	definedSrc := `typeof BLeakConfig !== "undefined"`
	checkSrc := fmt.Sprintf(`!!(BLeakConfig.%s[%d].check())`, phase, index)

	ticker := time.NewTicker(e.pollInterval())
	defer ticker.Stop()

	consecutiveUndefined := 0
	for {
		if !time.Now().Before(deadline) {
			return &berrors.Timeout{Phase: phase, Index: index, After: timeout.String()}
		}

		var defined bool
		if err := e.Driver.RunCode(ctx, definedSrc, &defined); err != nil {
			e.logPredicateFailure(phase, index, err)
		} else if !defined {
			consecutiveUndefined++
			if consecutiveUndefined >= e.threshold() {
				return &berrors.ConfigNotInjected{Phase: phase, Index: index, ConsecutiveObserved: consecutiveUndefined}
			}
		} else {
			consecutiveUndefined = 0
			var result bool
			if err := e.Driver.RunCode(ctx, checkSrc, &result); err != nil {
				e.logPredicateFailure(phase, index, err)
			} else if result {
				if err := sleepCtx(ctx, e.settleDelay()); err != nil {
					return err
				}
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// NextStep runs WaitUntilTrue then evaluates BLeakConfig.<phase>[<index>].next()
// in the page (spec.md §4.1). Exceptions from next() are fatal to the
// current phase.
func (e *Engine) NextStep(ctx context.Context, phase string, index int, timeout time.Duration) error {
	if err := e.WaitUntilTrue(ctx, phase, index, timeout); err != nil {
		return err
	}
	nextSrc := fmt.Sprintf(`BLeakConfig.%s[%d].next()`, phase, index)
	if err := e.Driver.RunCode(ctx, nextSrc, nil); err != nil {
		return &berrors.PageEvalFailure{Phase: phase, Index: index, Err: err}
	}
	return nil
}

func (e *Engine) pollInterval() time.Duration {
	if e.PollInterval > 0 {
		return e.PollInterval
	}
	return DefaultPollInterval
}

func (e *Engine) settleDelay() time.Duration {
	if e.SettleDelay > 0 {
		return e.SettleDelay
	}
	return DefaultSettleDelay
}

func (e *Engine) threshold() int {
	if e.UndefinedEscalationThreshold > 0 {
		return e.UndefinedEscalationThreshold
	}
	return DefaultUndefinedEscalationThreshold
}

func (e *Engine) logPredicateFailure(phase string, index int, err error) {
	pf := &berrors.PredicateFailure{Phase: phase, Index: index, Err: err}
	if e.Logger != nil {
		e.Logger.Warn("bleak: predicate evaluation failed, continuing to poll", "phase", phase, "index", index, "error", pf)
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
