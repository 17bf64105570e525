package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExactRef(t *testing.T) {
	cases := []struct {
		in     string
		target string
		ok     bool
	}{
		{"{{step_1}}", "step_1", true},
		{"{{step_1.output}}", "step_1", true},
		{"{{ step_1 }}", "step_1", true},
		{"{{input}}", "input", true},
		{"prefix {{step_1}}", "", false},
		{"{{step_1}} suffix", "", false},
		{"no refs here", "", false},
		{"{{}}", "", false},
	}

	for _, tc := range cases {
		target, ok := ExactRef(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.target, target, "input %q", tc.in)
	}
}

func TestRefs(t *testing.T) {
	targets := Refs("use {{a}} and {{b.output}} plus {{input}}")
	assert.Equal(t, []string{"a", "b", "input"}, targets)

	assert.Empty(t, Refs("plain string"))
}

func TestReplaceRefs(t *testing.T) {
	values := map[string]string{"a": "first", "b": "second"}
	lookup := func(target string) (string, bool) {
		v, ok := values[target]
		return v, ok
	}

	out, missing := ReplaceRefs("{{a}} then {{b}}", lookup)
	assert.Equal(t, "first then second", out)
	assert.Empty(t, missing)

	_, missing = ReplaceRefs("{{a}} then {{ghost}}", lookup)
	assert.Equal(t, "ghost", missing)
}

func TestValueRefs(t *testing.T) {
	params := map[string]interface{}{
		"prompt": "animate {{image.output}}",
		"nested": map[string]interface{}{
			"list": []interface{}{"{{a}}", 42, "{{b}}"},
		},
		"count": 3,
	}

	targets := ValueRefs(params)
	assert.ElementsMatch(t, []string{"image", "a", "b"}, targets)
}

func TestStepRefs(t *testing.T) {
	s := &Step{
		Name:      "s",
		InputFrom: "{{prev}}",
		Params: map[string]interface{}{
			"prompt": "style of {{seed}}",
		},
	}
	assert.ElementsMatch(t, []string{"prev", "seed"}, StepRefs(s))
}
