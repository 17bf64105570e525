package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/provider"
)

func serialStep(name string, typ chain.StepType, model, inputFrom string) chain.Step {
	return chain.Step{Name: name, Type: typ, Model: model, OutputName: name, InputFrom: inputFrom}
}

func serialChain(name string, steps ...chain.Step) *chain.Chain {
	c := &chain.Chain{Name: name}
	for i := range steps {
		c.Units = append(c.Units, chain.Unit{Step: &steps[i]})
	}
	return c
}

func echoOp(cost float64) provider.Operation {
	return provider.OperationFunc(func(ctx context.Context, req provider.Request) (*provider.Result, error) {
		return &provider.Result{Output: "out_" + req.StepName, Cost: cost}, nil
	})
}

func videoChain() (*chain.Chain, *provider.Registry) {
	c := serialChain("video",
		serialStep("image", chain.StepTypeTextToImage, "flux_dev", "{{input}}"),
		serialStep("clip", chain.StepTypeImageToVideo, "veo3", "{{image}}"),
		serialStep("final", chain.StepTypeAddAudio, "thinksound", "{{clip}}"),
	)
	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", echoOp(0.01))
	reg.Register(chain.StepTypeImageToVideo, "veo3", echoOp(0.50))
	reg.Register(chain.StepTypeAddAudio, "thinksound", echoOp(0.35))
	return c, reg
}

func TestExecutorRunsSerialStepsInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	c, _ := videoChain()

	reg := provider.NewRegistry()
	seen := map[string]interface{}{}
	capture := provider.OperationFunc(func(ctx context.Context, req provider.Request) (*provider.Result, error) {
		mu.Lock()
		order = append(order, req.StepName)
		seen[req.StepName] = req.Input
		mu.Unlock()
		return &provider.Result{Output: "out_" + req.StepName}, nil
	})
	reg.Register(chain.StepTypeTextToImage, "flux_dev", capture)
	reg.Register(chain.StepTypeImageToVideo, "veo3", capture)
	reg.Register(chain.StepTypeAddAudio, "thinksound", capture)

	exec := NewExecutor(Options{Registry: reg, Catalog: chain.NewCatalog()})
	report, err := exec.Run(context.Background(), c, "a red fox")

	require.NoError(t, err)
	assert.Equal(t, []string{"image", "clip", "final"}, order)

	// Each step saw the prior step's output as its input.
	assert.Equal(t, "a red fox", seen["image"])
	assert.Equal(t, "out_image", seen["clip"])
	assert.Equal(t, "out_clip", seen["final"])

	assert.True(t, report.OverallSuccess)
	assert.Equal(t, 3, report.StepsCompleted)
	assert.Equal(t, 3, report.TotalSteps)
	assert.Equal(t, "out_final", report.Outputs["final"])
	assert.Empty(t, report.FailedSteps())
}

func TestExecutorAbortsAfterRequiredFailure(t *testing.T) {
	c, _ := videoChain()

	var finalInvoked bool
	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", echoOp(0.01))
	reg.Register(chain.StepTypeImageToVideo, "veo3", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			return nil, fmt.Errorf("render backend down")
		}))
	reg.Register(chain.StepTypeAddAudio, "thinksound", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			finalInvoked = true
			return &provider.Result{Output: "never"}, nil
		}))

	exec := NewExecutor(Options{Registry: reg, Catalog: chain.NewCatalog()})
	report, err := exec.Run(context.Background(), c, "prompt")

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "image", report.Outcomes[0].StepName)
	assert.Equal(t, "clip", report.Outcomes[1].StepName)
	assert.False(t, finalInvoked)

	assert.False(t, report.OverallSuccess)
	assert.Equal(t, 1, report.StepsCompleted)
	assert.Equal(t, []string{"clip"}, report.FailedSteps())
	assert.Contains(t, report.Error, "render backend down")
}

func TestExecutorContinuesPastOptionalFailure(t *testing.T) {
	steps := []chain.Step{
		serialStep("image", chain.StepTypeTextToImage, "flux_dev", "{{input}}"),
		serialStep("caption", chain.StepTypeImageUnderstanding, "gemini_describe", "{{image}}"),
		serialStep("clip", chain.StepTypeImageToVideo, "veo3", "{{image}}"),
	}
	steps[1].Optional = true
	c := serialChain("tolerant", steps...)

	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", echoOp(0.01))
	reg.Register(chain.StepTypeImageUnderstanding, "gemini_describe", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			return nil, fmt.Errorf("captioning unavailable")
		}))
	reg.Register(chain.StepTypeImageToVideo, "veo3", echoOp(0.50))

	exec := NewExecutor(Options{Registry: reg, Catalog: chain.NewCatalog()})
	report, err := exec.Run(context.Background(), c, "prompt")

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)
	assert.True(t, report.OverallSuccess)
	assert.Equal(t, 2, report.StepsCompleted)
	assert.Equal(t, []string{"caption"}, report.FailedSteps())
	assert.Empty(t, report.Error)
	assert.Equal(t, "out_clip", report.Outputs["clip"])
	_, hasCaption := report.Outputs["caption"]
	assert.False(t, hasCaption)
}

func TestExecutorSumsCostsExactly(t *testing.T) {
	c, reg := videoChain()

	exec := NewExecutor(Options{Registry: reg, Catalog: chain.NewCatalog()})
	report, err := exec.Run(context.Background(), c, "prompt")

	require.NoError(t, err)
	assert.Equal(t, 0.86, report.TotalCost)
}

func TestExecutorElapsedIsWallClock(t *testing.T) {
	members := []chain.Step{
		member("left", "flux_dev"),
		member("right", "imagen4"),
	}
	c := &chain.Chain{Name: "fanout", Units: []chain.Unit{
		{Group: &chain.Group{Name: "variants", MergeStrategy: chain.MergeCollectAll, Steps: members}},
	}}

	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", delayedOp(100*time.Millisecond))
	reg.Register(chain.StepTypeTextToImage, "imagen4", delayedOp(100*time.Millisecond))

	exec := NewExecutor(Options{Registry: reg, Catalog: chain.NewCatalog(), Workers: 2})
	report, err := exec.Run(context.Background(), c, "prompt")

	require.NoError(t, err)
	assert.True(t, report.OverallSuccess)
	// Members ran concurrently: the run took about one member's time,
	// well under the serial sum of 200ms.
	assert.GreaterOrEqual(t, report.TotalElapsed, 100*time.Millisecond)
	assert.Less(t, report.TotalElapsed, 190*time.Millisecond)
}

func TestExecutorCancelsBetweenUnits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, _ := videoChain()
	var clipInvoked bool
	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", echoOp(0))
	reg.Register(chain.StepTypeImageToVideo, "veo3", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			clipInvoked = true
			return &provider.Result{Output: "clip"}, nil
		}))
	reg.Register(chain.StepTypeAddAudio, "thinksound", echoOp(0))

	// Cancel once the first step has fully finished, so the executor
	// notices at its next between-unit check.
	pub := eventHookPublisher(func(e Event) {
		if e.Type == EventStepFinished && e.Step == "image" {
			cancel()
		}
	})

	exec := NewExecutor(Options{Registry: reg, Catalog: chain.NewCatalog(), Publisher: pub})
	report, err := exec.Run(ctx, c, "prompt")

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.True(t, report.Outcomes[0].Success)
	assert.False(t, clipInvoked)
	assert.False(t, report.OverallSuccess)
	assert.Contains(t, report.Error, "canceled")
}

func TestExecutorRejectsInvalidChain(t *testing.T) {
	c := serialChain("broken",
		serialStep("a", chain.StepTypeTextToImage, "no_such_model", "{{input}}"),
	)

	exec := NewExecutor(Options{Registry: provider.NewRegistry(), Catalog: chain.NewCatalog()})
	report, err := exec.Run(context.Background(), c, "prompt")

	assert.Nil(t, report)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid chain")
}

func TestExecutorRequiresRegistry(t *testing.T) {
	c, _ := videoChain()
	exec := NewExecutor(Options{})
	report, err := exec.Run(context.Background(), c, "prompt")
	assert.Nil(t, report)
	assert.Error(t, err)
}

func TestExecutorStampsAndOrdersEvents(t *testing.T) {
	c, reg := videoChain()
	pub := &capturePublisher{}

	exec := NewExecutor(Options{
		RunID:     "run-42",
		Registry:  reg,
		Catalog:   chain.NewCatalog(),
		Publisher: pub,
	})
	_, err := exec.Run(context.Background(), c, "prompt")
	require.NoError(t, err)

	pub.mu.Lock()
	events := append([]Event(nil), pub.events...)
	pub.mu.Unlock()

	require.NotEmpty(t, events)
	assert.Equal(t, EventRunStarted, events[0].Type)
	assert.Equal(t, EventRunFinished, events[len(events)-1].Type)
	assert.True(t, events[len(events)-1].Success)

	for _, e := range events {
		assert.Equal(t, "run-42", e.RunID)
		assert.Equal(t, "video", e.Chain)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Len(t, pub.byType(EventStepFinished), 3)
}

func TestExecutorNotifiesRecorder(t *testing.T) {
	c, reg := videoChain()
	rec := &captureRecorder{}

	exec := NewExecutor(Options{Registry: reg, Catalog: chain.NewCatalog(), Recorder: rec})
	report, err := exec.Run(context.Background(), c, "prompt")
	require.NoError(t, err)

	assert.Equal(t, []string{"flux_dev", "veo3", "thinksound"}, rec.models)
	require.Len(t, rec.runs, 1)
	assert.Same(t, report, rec.runs[0])
}

func TestExecutorFailsStepOnUnresolvedReference(t *testing.T) {
	c := serialChain("dangling",
		serialStep("caption", chain.StepTypeTextToImage, "flux_dev", "{{input}}"),
		serialStep("clip", chain.StepTypeImageToVideo, "veo3", "{{input}}"),
	)
	// The reference is statically sound: it names an output an optional
	// step may simply never produce at runtime.
	c.Units[0].Step.Optional = true
	c.Units[1].Step.Params = map[string]interface{}{"prompt": "{{caption}}"}

	var clipInvoked bool
	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			return nil, fmt.Errorf("image backend down")
		}))
	reg.Register(chain.StepTypeImageToVideo, "veo3", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			clipInvoked = true
			return &provider.Result{Output: "clip"}, nil
		}))

	exec := NewExecutor(Options{Registry: reg, Catalog: chain.NewCatalog()})
	report, err := exec.Run(context.Background(), c, "prompt")

	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)
	assert.False(t, clipInvoked)
	require.NotNil(t, report.Outcomes[1].Err)
	assert.Equal(t, ErrKindUnresolvedReference, report.Outcomes[1].Err.Kind)
}

type eventHookPublisher func(Event)

func (f eventHookPublisher) PublishEvent(e Event) { f(e) }

type captureRecorder struct {
	mu     sync.Mutex
	models []string
	runs   []*Report
}

func (r *captureRecorder) RecordStep(chainName string, stepType chain.StepType, model string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, model)
}

func (r *captureRecorder) RecordRun(chainName string, report *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, report)
}
