package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/provider"
)

func groupOf(strategy chain.MergeStrategy, outputName string, steps ...chain.Step) *chain.Group {
	return &chain.Group{Name: "group", MergeStrategy: strategy, OutputName: outputName, Steps: steps}
}

func member(name, model string) chain.Step {
	return chain.Step{
		Name:       name,
		Type:       chain.StepTypeTextToImage,
		Model:      model,
		OutputName: name,
		InputFrom:  "{{input}}",
	}
}

func TestRunGroupMergesInDeclaredOrder(t *testing.T) {
	reg := provider.NewRegistry()
	delays := map[string]time.Duration{"flux_dev": 60 * time.Millisecond, "imagen4": 0}
	reg.Register(chain.StepTypeTextToImage, "flux_dev", delayedOp(delays["flux_dev"]))
	reg.Register(chain.StepTypeTextToImage, "imagen4", delayedOp(delays["imagen4"]))

	coordinator := NewCoordinator(NewRunner(reg, nil), 4, nil)
	group := groupOf(chain.MergeCollectAll, "all", member("slow", "flux_dev"), member("fast", "imagen4"))

	canonical := NewContext("prompt")
	outcomes := coordinator.RunGroup(context.Background(), group, canonical)

	// Declared order regardless of completion order.
	require.Len(t, outcomes, 2)
	assert.Equal(t, "slow", outcomes[0].StepName)
	assert.Equal(t, "fast", outcomes[1].StepName)

	slow, ok := canonical.Lookup("slow")
	require.True(t, ok)
	assert.Equal(t, "out:flux_dev:slow", slow)
	fast, ok := canonical.Lookup("fast")
	require.True(t, ok)
	assert.Equal(t, "out:imagen4:fast", fast)

	all, ok := canonical.Lookup("all")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{
		"slow": "out:flux_dev:slow",
		"fast": "out:imagen4:fast",
	}, all)
}

func delayedOp(d time.Duration) provider.Operation {
	return provider.OperationFunc(func(ctx context.Context, req provider.Request) (*provider.Result, error) {
		if d > 0 {
			time.Sleep(d)
		}
		return &provider.Result{Output: fmt.Sprintf("out:%s:%s", req.Model, req.StepName)}, nil
	})
}

func TestRunGroupFailureContainment(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", delayedOp(0))
	reg.Register(chain.StepTypeTextToImage, "imagen4", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			return nil, fmt.Errorf("model overloaded")
		}))
	reg.Register(chain.StepTypeTextToImage, "seedream_v3", delayedOp(20*time.Millisecond))

	coordinator := NewCoordinator(NewRunner(reg, nil), 4, nil)
	group := groupOf(chain.MergeCollectAll, "",
		member("a", "flux_dev"), member("b", "imagen4"), member("c", "seedream_v3"))

	canonical := NewContext("prompt")
	outcomes := coordinator.RunGroup(context.Background(), group, canonical)

	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].Success)
	assert.False(t, outcomes[1].Success)
	assert.True(t, outcomes[2].Success)
	assert.Equal(t, ErrKindOperation, outcomes[1].Err.Kind)

	// The failed member contributes no output key.
	_, ok := canonical.Lookup("a")
	assert.True(t, ok)
	_, ok = canonical.Lookup("b")
	assert.False(t, ok)
	_, ok = canonical.Lookup("c")
	assert.True(t, ok)

	assert.True(t, RequiredFailed(group, outcomes))
}

func TestRunGroupIsolatesMemberState(t *testing.T) {
	aDone := make(chan struct{})
	var observed interface{}

	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			// Corrupt this member's resolved view of the shared config.
			req.Params["cfg"].(map[string]interface{})["quality"] = "ruined"
			close(aDone)
			return &provider.Result{Output: "a"}, nil
		}))
	reg.Register(chain.StepTypeTextToImage, "imagen4", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			<-aDone // read strictly after the sibling's mutation
			observed = req.Params["cfg"].(map[string]interface{})["quality"]
			return &provider.Result{Output: "b"}, nil
		}))

	sharedCfg := map[string]interface{}{"quality": "high"}
	canonical := NewContext("prompt")
	canonical.Publish("cfg", sharedCfg)

	withCfg := func(s chain.Step) chain.Step {
		s.Params = map[string]interface{}{"cfg": "{{cfg}}"}
		return s
	}
	group := groupOf(chain.MergeCollectAll, "",
		withCfg(member("a", "flux_dev")), withCfg(member("b", "imagen4")))

	coordinator := NewCoordinator(NewRunner(reg, nil), 2, nil)
	outcomes := coordinator.RunGroup(context.Background(), group, canonical)

	require.True(t, outcomes[0].Success)
	require.True(t, outcomes[1].Success)

	// The sibling resolved from its own deep copy.
	assert.Equal(t, "high", observed)
	// And the pre-group snapshot value is untouched.
	cfg, _ := canonical.Lookup("cfg")
	assert.Equal(t, "high", cfg.(map[string]interface{})["quality"])
	assert.Equal(t, "high", sharedCfg["quality"])
}

func TestRunGroupDeterministicUnderDelays(t *testing.T) {
	run := func(slowFirst bool) map[string]interface{} {
		reg := provider.NewRegistry()
		slow, fast := time.Duration(40*time.Millisecond), time.Duration(0)
		if !slowFirst {
			slow, fast = fast, 40*time.Millisecond
		}
		reg.Register(chain.StepTypeTextToImage, "flux_dev", delayedOp(slow))
		reg.Register(chain.StepTypeTextToImage, "imagen4", delayedOp(fast))

		coordinator := NewCoordinator(NewRunner(reg, nil), 2, nil)
		group := groupOf(chain.MergeCollectAll, "all", member("one", "flux_dev"), member("two", "imagen4"))
		canonical := NewContext("prompt")
		coordinator.RunGroup(context.Background(), group, canonical)
		return canonical.Outputs()
	}

	assert.Equal(t, run(true), run(false))
}

func TestRunGroupFirstSuccessStrategy(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			return nil, fmt.Errorf("no capacity")
		}))
	reg.Register(chain.StepTypeTextToImage, "imagen4", delayedOp(30*time.Millisecond))
	reg.Register(chain.StepTypeTextToImage, "seedream_v3", delayedOp(0))

	coordinator := NewCoordinator(NewRunner(reg, nil), 4, nil)
	group := groupOf(chain.MergeFirstSuccess, "best",
		member("first", "flux_dev"), member("second", "imagen4"), member("third", "seedream_v3"))

	canonical := NewContext("prompt")
	coordinator.RunGroup(context.Background(), group, canonical)

	// Declared order decides "first", not completion order: "second" wins
	// even though "third" finished earlier.
	best, ok := canonical.Lookup("best")
	require.True(t, ok)
	assert.Equal(t, "out:imagen4:second", best)
}

func TestRunGroupBoundsWorkers(t *testing.T) {
	var active, peak int32

	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", provider.OperationFunc(
		func(ctx context.Context, req provider.Request) (*provider.Result, error) {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return &provider.Result{Output: req.StepName}, nil
		}))

	coordinator := NewCoordinator(NewRunner(reg, nil), 2, nil)
	group := groupOf(chain.MergeCollectAll, "",
		member("m1", "flux_dev"), member("m2", "flux_dev"),
		member("m3", "flux_dev"), member("m4", "flux_dev"))

	outcomes := coordinator.RunGroup(context.Background(), group, NewContext("in"))

	require.Len(t, outcomes, 4)
	for _, o := range outcomes {
		assert.True(t, o.Success)
	}
	assert.LessOrEqual(t, peak, int32(2))
}

func TestRequiredFailedIgnoresOptionalMembers(t *testing.T) {
	group := groupOf(chain.MergeCollectAll, "",
		chain.Step{Name: "a", OutputName: "a", Optional: true},
		chain.Step{Name: "b", OutputName: "b"},
	)

	failedA := []Outcome{
		{StepName: "a", Success: false, Err: &StepError{Kind: ErrKindOperation, Step: "a"}},
		{StepName: "b", Success: true},
	}
	assert.False(t, RequiredFailed(group, failedA))

	failedB := []Outcome{
		{StepName: "a", Success: true},
		{StepName: "b", Success: false, Err: &StepError{Kind: ErrKindOperation, Step: "b"}},
	}
	assert.True(t, RequiredFailed(group, failedB))
}

func TestRunGroupPublishesMemberEvents(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(chain.StepTypeTextToImage, "flux_dev", delayedOp(0))

	pub := &capturePublisher{}
	coordinator := NewCoordinator(NewRunner(reg, nil), 2, pub)
	group := groupOf(chain.MergeCollectAll, "", member("a", "flux_dev"), member("b", "flux_dev"))

	coordinator.RunGroup(context.Background(), group, NewContext("in"))

	finished := pub.byType(EventStepFinished)
	assert.Len(t, finished, 2)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) PublishEvent(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) byType(t EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
