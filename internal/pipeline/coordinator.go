package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/contentpipe/contentpipe/internal/chain"
)

// Coordinator runs the members of one parallel group on a bounded worker
// pool. Members execute against private deep copies of the context and
// their outputs merge back in declared order, so completion timing never
// changes what later steps or the report observe.
type Coordinator struct {
	runner    *Runner
	workers   int
	publisher EventPublisher
}

// NewCoordinator creates a coordinator. workers bounds the pool; zero or
// negative selects the machine's available parallelism.
func NewCoordinator(runner *Runner, workers int, publisher EventPublisher) *Coordinator {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Coordinator{runner: runner, workers: workers, publisher: publisher}
}

// RunGroup executes every member of the group and merges successful
// outputs into canonical. It returns outcomes in declared order and only
// after every member has finished; one member's failure neither cancels
// nor disturbs its siblings. canonical is written exclusively after the
// join, never while workers run.
func (c *Coordinator) RunGroup(ctx context.Context, group *chain.Group, canonical *Context) []Outcome {
	n := len(group.Steps)
	outcomes := make([]Outcome, n)

	sem := make(chan struct{}, min(c.workers, n))
	var wg sync.WaitGroup

	for i := range group.Steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			step := &group.Steps[i]
			private := canonical.Clone()

			c.publishStep(group, step, UnitRunning, nil)
			outcome := c.runner.ResolveAndRun(ctx, step, private)
			outcomes[i] = outcome
			c.publishStep(group, step, stateFor(outcome), &outcome)
		}(i)
	}

	wg.Wait()
	c.merge(group, outcomes, canonical)
	return outcomes
}

// merge publishes successful member outputs in declared order, then the
// group's own output per its merge strategy. Failed members contribute
// nothing.
func (c *Coordinator) merge(group *chain.Group, outcomes []Outcome, canonical *Context) {
	for i := range group.Steps {
		if outcomes[i].Success {
			canonical.Publish(group.Steps[i].OutputName, outcomes[i].Output)
		}
	}

	if group.OutputName == "" {
		return
	}

	switch group.MergeStrategy {
	case chain.MergeFirstSuccess:
		for i := range group.Steps {
			if outcomes[i].Success {
				canonical.Publish(group.OutputName, outcomes[i].Output)
				return
			}
		}
	default: // collect_all
		collected := make(map[string]interface{})
		for i := range group.Steps {
			if outcomes[i].Success {
				collected[group.Steps[i].OutputName] = outcomes[i].Output
			}
		}
		canonical.Publish(group.OutputName, collected)
	}
}

// RequiredFailed reports whether any non-optional member failed, which
// fails the group as a unit for the abort policy.
func RequiredFailed(group *chain.Group, outcomes []Outcome) bool {
	for i := range group.Steps {
		if !outcomes[i].Success && !group.Steps[i].Optional {
			return true
		}
	}
	return false
}

func (c *Coordinator) publishStep(group *chain.Group, step *chain.Step, state UnitState, outcome *Outcome) {
	if c.publisher == nil {
		return
	}

	event := Event{
		Type:      EventUnitState,
		Unit:      group.Name,
		Step:      step.Name,
		State:     state,
		Timestamp: time.Now(),
	}
	if outcome != nil {
		event.Type = EventStepFinished
		event.Success = outcome.Success
		event.Cost = outcome.Cost
		event.Elapsed = outcome.Elapsed.Seconds()
		if outcome.Err != nil {
			event.Error = outcome.Err.Error()
		}
	}
	c.publisher.PublishEvent(event)
}

func stateFor(o Outcome) UnitState {
	if o.Success {
		return UnitCompleted
	}
	return UnitFailed
}
