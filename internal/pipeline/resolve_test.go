package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentpipe/contentpipe/internal/chain"
)

func resolveCtx() *Context {
	ctx := NewContext("a quiet harbor at dawn")
	ctx.Publish("image", "sim://flux_dev/image.png")
	ctx.Publish("meta", map[string]interface{}{"width": 1920})
	return ctx
}

func TestResolveInputFrom(t *testing.T) {
	ctx := resolveCtx()

	step := &chain.Step{Name: "animate", Type: chain.StepTypeImageToVideo, InputFrom: "{{image}}"}
	resolved, serr := Resolve(step, ctx)
	require.Nil(t, serr)
	assert.Equal(t, "sim://flux_dev/image.png", resolved.Input)

	step = &chain.Step{Name: "first", Type: chain.StepTypeTextToImage, InputFrom: "{{input}}"}
	resolved, serr = Resolve(step, ctx)
	require.Nil(t, serr)
	assert.Equal(t, "a quiet harbor at dawn", resolved.Input)
}

func TestResolveExactKeepsType(t *testing.T) {
	ctx := resolveCtx()

	step := &chain.Step{
		Name:      "inspect",
		Type:      chain.StepTypeImageUnderstanding,
		InputFrom: "{{image}}",
		Params: map[string]interface{}{
			"source_meta": "{{meta}}",
		},
	}

	resolved, serr := Resolve(step, ctx)
	require.Nil(t, serr)
	// Exactly-one-reference params keep the referenced value's type.
	assert.Equal(t, map[string]interface{}{"width": 1920}, resolved.Params["source_meta"])
}

func TestResolvePartialSubstitution(t *testing.T) {
	ctx := resolveCtx()

	step := &chain.Step{
		Name:      "animate",
		Type:      chain.StepTypeImageToVideo,
		InputFrom: "{{image}}",
		Params: map[string]interface{}{
			"prompt": "animate {{image}} slowly, from {{input}}",
		},
	}

	resolved, serr := Resolve(step, ctx)
	require.Nil(t, serr)
	assert.Equal(t,
		"animate sim://flux_dev/image.png slowly, from a quiet harbor at dawn",
		resolved.Params["prompt"])
}

func TestResolveNestedStructures(t *testing.T) {
	ctx := resolveCtx()

	step := &chain.Step{
		Name:      "animate",
		Type:      chain.StepTypeImageToVideo,
		InputFrom: "{{image}}",
		Params: map[string]interface{}{
			"extras": map[string]interface{}{
				"sources": []interface{}{"{{image}}", "literal"},
			},
		},
	}

	resolved, serr := Resolve(step, ctx)
	require.Nil(t, serr)

	extras := resolved.Params["extras"].(map[string]interface{})
	sources := extras["sources"].([]interface{})
	assert.Equal(t, "sim://flux_dev/image.png", sources[0])
	assert.Equal(t, "literal", sources[1])
}

func TestResolveMissingReference(t *testing.T) {
	ctx := resolveCtx()

	step := &chain.Step{Name: "animate", Type: chain.StepTypeImageToVideo, InputFrom: "{{imge}}"}
	_, serr := Resolve(step, ctx)
	require.NotNil(t, serr)
	assert.Equal(t, ErrKindUnresolvedReference, serr.Kind)
	assert.Contains(t, serr.Message, "imge")

	step = &chain.Step{
		Name:      "animate",
		Type:      chain.StepTypeImageToVideo,
		InputFrom: "{{image}}",
		Params:    map[string]interface{}{"prompt": "style of {{ghost}}"},
	}
	_, serr = Resolve(step, ctx)
	require.NotNil(t, serr)
	assert.Equal(t, ErrKindUnresolvedReference, serr.Kind)
}

func TestResolveSchemaValidation(t *testing.T) {
	ctx := resolveCtx()

	// add_audio requires a prompt param.
	step := &chain.Step{Name: "audio", Type: chain.StepTypeAddAudio, InputFrom: "{{image}}"}
	_, serr := Resolve(step, ctx)
	require.NotNil(t, serr)
	assert.Equal(t, ErrKindValidation, serr.Kind)

	// Wrong kind after resolution is also a validation failure.
	step = &chain.Step{
		Name:      "animate",
		Type:      chain.StepTypeImageToVideo,
		InputFrom: "{{image}}",
		Params:    map[string]interface{}{"duration": "eight"},
	}
	_, serr = Resolve(step, ctx)
	require.NotNil(t, serr)
	assert.Equal(t, ErrKindValidation, serr.Kind)
}

func TestResolveIsIdempotentAndPure(t *testing.T) {
	ctx := resolveCtx()

	step := &chain.Step{
		Name:      "animate",
		Type:      chain.StepTypeImageToVideo,
		InputFrom: "{{image}}",
		Params: map[string]interface{}{
			"prompt": "animate {{image}}",
			"nested": map[string]interface{}{"src": "{{image}}"},
		},
	}

	first, serr := Resolve(step, ctx)
	require.Nil(t, serr)
	second, serr := Resolve(step, ctx)
	require.Nil(t, serr)
	assert.Equal(t, first.Params, second.Params)
	assert.Equal(t, first.Input, second.Input)

	// The step's own params must remain unresolved templates.
	assert.Equal(t, "animate {{image}}", step.Params["prompt"])
	assert.Equal(t, "{{image}}", step.Params["nested"].(map[string]interface{})["src"])
}
