package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/provider"
)

// Options configure an executor. Everything a run needs is carried here
// explicitly; the executor reads no ambient state.
type Options struct {
	RunID     string
	Registry  *provider.Registry
	Catalog   *chain.Catalog
	Costs     CostFunc
	Workers   int
	Publisher EventPublisher
	Recorder  Recorder
}

// Executor orchestrates one run: it walks the chain's units in
// declaration order, dispatches serial steps through the runner and
// parallel groups through the coordinator, applies the abort policy and
// assembles the report. Construct a fresh executor per run.
type Executor struct {
	opts Options
}

// NewExecutor creates an executor for one run configuration. When Costs
// is nil and a catalog is present, the catalog prices unpriced steps.
func NewExecutor(opts Options) *Executor {
	if opts.Costs == nil && opts.Catalog != nil {
		opts.Costs = opts.Catalog.CostOf
	}
	return &Executor{opts: opts}
}

// Run executes the chain against input. The returned error is non-nil
// only for contract violations (a malformed or invalid chain) detected
// before dispatch; step failures are reported inside the Report, which is
// always complete for every attempted step.
func (e *Executor) Run(ctx context.Context, c *chain.Chain, input interface{}) (*Report, error) {
	if e.opts.Registry == nil {
		return nil, fmt.Errorf("executor has no operation registry")
	}
	if e.opts.Catalog != nil {
		if err := c.Validate(e.opts.Catalog); err != nil {
			return nil, fmt.Errorf("invalid chain: %w", err)
		}
	}

	publisher := &stampedPublisher{inner: e.opts.Publisher, runID: e.opts.RunID, chainName: c.Name}
	runner := NewRunner(e.opts.Registry, e.opts.Costs)
	coordinator := NewCoordinator(runner, e.opts.Workers, publisher)

	start := time.Now()
	pctx := NewContext(input)
	builder := newReportBuilder(c.Name, c.TotalSteps())

	publisher.PublishEvent(Event{Type: EventRunStarted})

	for i := range c.Units {
		unit := &c.Units[i]

		// Cooperative cancellation point, checked between units only.
		if err := ctx.Err(); err != nil {
			builder.fail(fmt.Sprintf("run canceled: %v", err))
			break
		}

		if g := unit.Group; g != nil {
			publisher.PublishEvent(Event{Type: EventUnitState, Unit: g.Name, State: UnitRunning})

			outcomes := coordinator.RunGroup(ctx, g, pctx)
			for j := range outcomes {
				builder.add(outcomes[j], g.Steps[j].Optional)
				e.recordStep(c.Name, &g.Steps[j], outcomes[j])
			}

			if RequiredFailed(g, outcomes) {
				publisher.PublishEvent(Event{Type: EventUnitState, Unit: g.Name, State: UnitFailed})
				break
			}
			publisher.PublishEvent(Event{Type: EventUnitState, Unit: g.Name, State: UnitCompleted})
			continue
		}

		step := unit.Step
		outcome := e.runSerial(ctx, publisher, runner, step, pctx)
		builder.add(outcome, step.Optional)
		e.recordStep(c.Name, step, outcome)

		if !outcome.Success && !step.Optional {
			break
		}
	}

	report := builder.finish(time.Since(start), pctx.Outputs())

	publisher.PublishEvent(Event{
		Type:    EventRunFinished,
		Success: report.OverallSuccess,
		Cost:    report.TotalCost,
		Elapsed: report.TotalElapsed.Seconds(),
		Error:   report.Error,
	})
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordRun(c.Name, report)
	}

	return report, nil
}

// runSerial drives one serial step through resolving and running. On
// success its output is published into the canonical context.
func (e *Executor) runSerial(ctx context.Context, publisher EventPublisher, runner *Runner, step *chain.Step, pctx *Context) Outcome {
	publisher.PublishEvent(Event{Type: EventUnitState, Unit: step.Name, Step: step.Name, State: UnitResolving})

	resolved, serr := Resolve(step, pctx)
	if serr != nil {
		outcome := failedOutcome(step.Name, serr, 0)
		publishOutcome(publisher, step.Name, outcome)
		return outcome
	}

	publisher.PublishEvent(Event{Type: EventUnitState, Unit: step.Name, Step: step.Name, State: UnitRunning})

	outcome := runner.Run(ctx, step, resolved)
	if outcome.Success {
		pctx.Publish(step.OutputName, outcome.Output)
	}
	publishOutcome(publisher, step.Name, outcome)
	return outcome
}

func (e *Executor) recordStep(chainName string, step *chain.Step, outcome Outcome) {
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordStep(chainName, step.Type, step.Model, outcome)
	}
}

func publishOutcome(publisher EventPublisher, stepName string, outcome Outcome) {
	event := Event{
		Type:    EventStepFinished,
		Unit:    stepName,
		Step:    stepName,
		State:   stateFor(outcome),
		Success: outcome.Success,
		Cost:    outcome.Cost,
		Elapsed: outcome.Elapsed.Seconds(),
	}
	if outcome.Err != nil {
		event.Error = outcome.Err.Error()
	}
	publisher.PublishEvent(event)
}

// stampedPublisher decorates every event with the run's identity before
// handing it to the configured publisher. A nil inner publisher makes
// every publish a no-op.
type stampedPublisher struct {
	inner     EventPublisher
	runID     string
	chainName string
}

func (p *stampedPublisher) PublishEvent(event Event) {
	if p.inner == nil {
		return
	}
	event.RunID = p.runID
	event.Chain = p.chainName
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	p.inner.PublishEvent(event)
}
