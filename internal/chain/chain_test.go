package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: test_chain
steps:
  - name: image
    type: text_to_image
    model: flux_dev
    params:
      aspect_ratio: "16:9"
  - name: video
    type: image_to_video
    model: veo3
    params:
      duration: 8
output_dir: output
temp_dir: temp
cleanup_temp: true
`

const groupYAML = `
name: variant_chain
steps:
  - name: seed
    type: text_to_image
    model: flux_dev
  - name: variants
    type: parallel_group
    merge_strategy: collect_all
    output_name: all_variants
    steps:
      - name: a
        type: image_to_image
        model: flux_kontext
        params:
          prompt: "variant a"
      - name: b
        type: image_to_image
        model: seededit_v3
        params:
          prompt: "variant b"
`

func TestParseYAML(t *testing.T) {
	c, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "test_chain", c.Name)
	assert.Len(t, c.Units, 2)
	assert.False(t, c.Units[0].IsGroup())
	assert.Equal(t, StepTypeTextToImage, c.Units[0].Step.Type)
	assert.Equal(t, "output", c.OutputDir)
	assert.True(t, c.CleanupTemp)
	assert.Equal(t, 2, c.TotalSteps())
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{
		"name": "json_chain",
		"steps": [
			{"name": "img", "type": "text_to_image", "model": "flux_schnell"}
		]
	}`)

	c, err := Parse(data, "json")
	require.NoError(t, err)
	assert.Equal(t, "json_chain", c.Name)
	require.Len(t, c.Units, 1)
	assert.Equal(t, "flux_schnell", c.Units[0].Step.Model)
}

func TestParseGroup(t *testing.T) {
	c, err := Parse([]byte(groupYAML), "yaml")
	require.NoError(t, err)

	require.Len(t, c.Units, 2)
	require.True(t, c.Units[1].IsGroup())

	g := c.Units[1].Group
	assert.Equal(t, "variants", g.Name)
	assert.Equal(t, MergeCollectAll, g.MergeStrategy)
	assert.Equal(t, "all_variants", g.OutputName)
	assert.Len(t, g.Steps, 2)
	assert.Equal(t, 3, c.TotalSteps())
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		format string
	}{
		{"bad format", sampleYAML, "toml"},
		{"missing name", "steps:\n  - type: text_to_image\n", "yaml"},
		{"no steps", "name: empty\n", "yaml"},
		{"missing type", "name: c\nsteps:\n  - name: s\n", "yaml"},
		{
			"nested group",
			`name: c
steps:
  - name: outer
    type: parallel_group
    steps:
      - name: inner
        type: parallel_group
        steps:
          - name: s
            type: text_to_image
`,
			"yaml",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data), tc.format)
			assert.Error(t, err)
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cat := NewCatalog()
	c := &Chain{
		Name: "defaults",
		Units: []Unit{
			{Step: &Step{Name: "first", Type: StepTypeTextToImage, Model: AutoModel}},
			{Step: &Step{Name: "second", Type: StepTypeImageToVideo}},
		},
	}

	c.Normalize(cat)

	first, second := c.Units[0].Step, c.Units[1].Step
	assert.Equal(t, "flux_dev", first.Model)
	assert.Equal(t, "first", first.OutputName)
	assert.Equal(t, "{{input}}", first.InputFrom)
	assert.Equal(t, "veo3", second.Model)
	assert.Equal(t, "{{first}}", second.InputFrom)
}

func TestNormalizeGroupDefaults(t *testing.T) {
	cat := NewCatalog()
	c, err := Parse([]byte(groupYAML), "yaml")
	require.NoError(t, err)

	c.Normalize(cat)

	g := c.Units[1].Group
	// Members default to the pre-group output, never to each other.
	assert.Equal(t, "{{seed}}", g.Steps[0].InputFrom)
	assert.Equal(t, "{{seed}}", g.Steps[1].InputFrom)
}

func TestValidateOK(t *testing.T) {
	cat := NewCatalog()
	c, err := Parse([]byte(groupYAML), "yaml")
	require.NoError(t, err)

	c.Normalize(cat)
	assert.NoError(t, c.Validate(cat))
}

func TestValidateProblems(t *testing.T) {
	cat := NewCatalog()

	cases := []struct {
		name  string
		chain *Chain
		want  string
	}{
		{
			"duplicate name",
			&Chain{Name: "c", Units: []Unit{
				{Step: &Step{Name: "s", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "a"}},
				{Step: &Step{Name: "s", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "b"}},
			}},
			"duplicate name",
		},
		{
			"duplicate output",
			&Chain{Name: "c", Units: []Unit{
				{Step: &Step{Name: "s1", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "same"}},
				{Step: &Step{Name: "s2", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "same"}},
			}},
			"duplicate output name",
		},
		{
			"unknown type",
			&Chain{Name: "c", Units: []Unit{
				{Step: &Step{Name: "s", Type: "text_to_hologram", Model: "x"}},
			}},
			"unknown type",
		},
		{
			"unknown model",
			&Chain{Name: "c", Units: []Unit{
				{Step: &Step{Name: "s", Type: StepTypeTextToImage, Model: "dalle_9"}},
			}},
			"unknown model",
		},
		{
			"forward reference",
			&Chain{Name: "c", Units: []Unit{
				{Step: &Step{Name: "s1", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "s1", InputFrom: "{{s2}}"}},
				{Step: &Step{Name: "s2", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "s2", InputFrom: "{{input}}"}},
			}},
			"references unknown output",
		},
		{
			"sibling reference",
			&Chain{Name: "c", Units: []Unit{
				{Group: &Group{Name: "g", MergeStrategy: MergeCollectAll, Steps: []Step{
					{Name: "a", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "a", InputFrom: "{{input}}"},
					{Name: "b", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "b", InputFrom: "{{a}}"},
				}}},
			}},
			"references sibling output",
		},
		{
			"reserved output",
			&Chain{Name: "c", Units: []Unit{
				{Step: &Step{Name: "s", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "input"}},
			}},
			"reserved",
		},
		{
			"bad timeout",
			&Chain{Name: "c", Units: []Unit{
				{Step: &Step{Name: "s", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "s", Timeout: "later"}},
			}},
			"invalid timeout",
		},
		{
			"bad merge strategy",
			&Chain{Name: "c", Units: []Unit{
				{Group: &Group{Name: "g", MergeStrategy: "best_vibes", Steps: []Step{
					{Name: "a", Type: StepTypeTextToImage, Model: "flux_dev", OutputName: "a", InputFrom: "{{input}}"},
				}}},
			}},
			"unknown merge strategy",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.chain.Validate(cat)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestInputKind(t *testing.T) {
	cases := []struct {
		stepType StepType
		want     string
	}{
		{StepTypeTextToImage, "text"},
		{StepTypePromptGeneration, "text"},
		{StepTypeImageToVideo, "image"},
		{StepTypeImageUnderstanding, "image"},
		{StepTypeAddAudio, "video"},
		{StepTypeUpscaleVideo, "video"},
	}

	for _, tc := range cases {
		c := &Chain{Units: []Unit{{Step: &Step{Name: "s", Type: tc.stepType}}}}
		assert.Equal(t, tc.want, c.InputKind(), "type %s", tc.stepType)
	}
}

func TestTimeoutDuration(t *testing.T) {
	s := &Step{Name: "s", Timeout: "30s"}
	d, err := s.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, "30s", d.String())

	s.Timeout = ""
	d, err = s.TimeoutDuration()
	require.NoError(t, err)
	assert.Zero(t, d)

	s.Timeout = "-5s"
	_, err = s.TimeoutDuration()
	assert.Error(t, err)
}
