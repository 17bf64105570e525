package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/provider"
)

// CostFunc prices a step when its operation does not report a cost.
type CostFunc func(t chain.StepType, model string, params map[string]interface{}) float64

// Runner executes single steps against the provider registry. It computes
// results but never publishes them; writing into the shared context is
// the executor's and coordinator's job.
type Runner struct {
	registry *provider.Registry
	costs    CostFunc
}

// NewRunner creates a runner. costs may be nil, in which case unpriced
// operations cost zero.
func NewRunner(registry *provider.Registry, costs CostFunc) *Runner {
	return &Runner{registry: registry, costs: costs}
}

// ResolveAndRun resolves the step against ctx's view of the context and
// executes it. Resolution failures produce a failed outcome without ever
// invoking the operation.
func (r *Runner) ResolveAndRun(ctx context.Context, step *chain.Step, pctx *Context) Outcome {
	resolved, serr := Resolve(step, pctx)
	if serr != nil {
		return failedOutcome(step.Name, serr, 0)
	}
	return r.Run(ctx, step, resolved)
}

// Run executes one resolved step and classifies its result. Every failure
// mode is caught here and converted to a failed outcome; no error escapes
// to the caller.
func (r *Runner) Run(ctx context.Context, step *chain.Step, resolved *Resolved) Outcome {
	start := time.Now()

	op, err := r.registry.Get(step.Type, step.Model)
	if err != nil {
		return failedOutcome(step.Name, validationErr(step.Name, err), time.Since(start))
	}

	timeout, err := step.TimeoutDuration()
	if err != nil {
		return failedOutcome(step.Name, validationErr(step.Name, err), time.Since(start))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := provider.Request{
		StepName: step.Name,
		Type:     step.Type,
		Model:    step.Model,
		Input:    resolved.Input,
		Params:   resolved.Params,
	}

	result, err := r.invoke(ctx, op, req)
	elapsed := time.Since(start)

	if err != nil {
		if timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			return failedOutcome(step.Name, timeoutErr(step.Name, timeout), elapsed)
		}
		return failedOutcome(step.Name, operationErr(step.Name, err), elapsed)
	}
	if result == nil {
		return failedOutcome(step.Name, operationErr(step.Name, fmt.Errorf("operation returned no result")), elapsed)
	}

	cost := result.Cost
	if cost == 0 && r.costs != nil {
		cost = r.costs(step.Type, step.Model, resolved.Params)
	}
	if cost < 0 {
		cost = 0
	}

	return Outcome{
		StepName: step.Name,
		Success:  true,
		Output:   result.Output,
		Cost:     cost,
		Elapsed:  elapsed,
	}
}

type opReturn struct {
	result *provider.Result
	err    error
}

// invoke runs the operation in its own goroutine so a deadline fires even
// if the operation ignores ctx. A panicking operation becomes an error
// instead of taking down the worker.
func (r *Runner) invoke(ctx context.Context, op provider.Operation, req provider.Request) (*provider.Result, error) {
	done := make(chan opReturn, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- opReturn{err: fmt.Errorf("operation panic: %v", p)}
			}
		}()
		result, err := op.Execute(ctx, req)
		done <- opReturn{result: result, err: err}
	}()

	select {
	case ret := <-done:
		return ret.result, ret.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failedOutcome(stepName string, serr *StepError, elapsed time.Duration) Outcome {
	return Outcome{
		StepName: stepName,
		Success:  false,
		Err:      serr,
		Elapsed:  elapsed,
	}
}
