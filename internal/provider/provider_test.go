package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpipe/contentpipe/internal/chain"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	op := OperationFunc(func(ctx context.Context, req Request) (*Result, error) {
		return &Result{Output: "done"}, nil
	})

	reg.Register(chain.StepTypeTextToImage, "flux_dev", op)

	got, err := reg.Get(chain.StepTypeTextToImage, "flux_dev")
	require.NoError(t, err)
	res, err := got.Execute(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Output)

	_, err = reg.Get(chain.StepTypeTextToImage, "missing_model")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestSimulatorCoversCatalog(t *testing.T) {
	cat := chain.NewCatalog()
	reg := NewRegistry()
	NewSimulator(cat, 0).RegisterAll(reg)

	for stepType, models := range cat.Models() {
		for _, model := range models {
			_, err := reg.Get(stepType, model)
			assert.NoError(t, err, "%s/%s", stepType, model)
		}
	}
}

func TestSimulatorOutputs(t *testing.T) {
	cat := chain.NewCatalog()
	reg := NewRegistry()
	NewSimulator(cat, 0).RegisterAll(reg)

	op, err := reg.Get(chain.StepTypeTextToImage, "flux_dev")
	require.NoError(t, err)

	res, err := op.Execute(context.Background(), Request{
		StepName: "generate_image",
		Type:     chain.StepTypeTextToImage,
		Model:    "flux_dev",
		Input:    "a quiet harbor at dawn",
	})
	require.NoError(t, err)

	assert.Equal(t, "sim://flux_dev/generate_image.png", res.Output)
	assert.InDelta(t, 0.03, res.Cost, 1e-9)
	assert.Equal(t, true, res.Metadata["simulated"])
}

func TestSimulatorHonorsCancellation(t *testing.T) {
	cat := chain.NewCatalog()
	reg := NewRegistry()
	NewSimulator(cat, time.Minute).RegisterAll(reg)

	op, err := reg.Get(chain.StepTypeAddAudio, "thinksound")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = op.Execute(ctx, Request{StepName: "audio", Type: chain.StepTypeAddAudio, Model: "thinksound"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
