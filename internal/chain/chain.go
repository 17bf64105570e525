package chain

import (
	"fmt"
	"time"
)

// StepType identifies the kind of content operation a step performs
type StepType string

const (
	StepTypeTextToImage        StepType = "text_to_image"
	StepTypeImageToImage       StepType = "image_to_image"
	StepTypeImageUnderstanding StepType = "image_understanding"
	StepTypePromptGeneration   StepType = "prompt_generation"
	StepTypeImageToVideo       StepType = "image_to_video"
	StepTypeAddAudio           StepType = "add_audio"
	StepTypeUpscaleVideo       StepType = "upscale_video"
)

// MergeStrategy controls what a parallel group publishes under its own output name
type MergeStrategy string

const (
	MergeCollectAll   MergeStrategy = "collect_all"   // map of member output name -> value
	MergeFirstSuccess MergeStrategy = "first_success" // first successful member in declared order
)

// Step is a single declared unit of work. Steps are built once at parse
// time and read-only during execution.
type Step struct {
	Name       string                 `json:"name" yaml:"name"`
	Type       StepType               `json:"type" yaml:"type"`
	Model      string                 `json:"model" yaml:"model"`
	Params     map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	InputFrom  string                 `json:"input_from,omitempty" yaml:"input_from,omitempty"`
	OutputName string                 `json:"output_name,omitempty" yaml:"output_name,omitempty"`
	Optional   bool                   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Timeout    string                 `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// TimeoutDuration parses the step's timeout. Zero means no deadline.
func (s *Step) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("step %s: invalid timeout %q: %w", s.Name, s.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("step %s: negative timeout %q", s.Name, s.Timeout)
	}
	return d, nil
}

// Group is an ordered set of steps with no data dependency on each other,
// eligible for concurrent execution.
type Group struct {
	Name          string        `json:"name" yaml:"name"`
	Steps         []Step        `json:"steps" yaml:"steps"`
	MergeStrategy MergeStrategy `json:"merge_strategy,omitempty" yaml:"merge_strategy,omitempty"`
	OutputName    string        `json:"output_name,omitempty" yaml:"output_name,omitempty"`
}

// Unit is one entry in a chain's execution sequence: either a serial step
// or a parallel group, never both.
type Unit struct {
	Step  *Step  `json:"step,omitempty" yaml:"step,omitempty"`
	Group *Group `json:"group,omitempty" yaml:"group,omitempty"`
}

// IsGroup reports whether the unit is a parallel group.
func (u Unit) IsGroup() bool {
	return u.Group != nil
}

// Name returns the step name or the group name.
func (u Unit) Name() string {
	if u.Group != nil {
		return u.Group.Name
	}
	if u.Step != nil {
		return u.Step.Name
	}
	return ""
}

// Steps returns the unit's steps in declared order.
func (u Unit) Steps() []Step {
	if u.Group != nil {
		return u.Group.Steps
	}
	if u.Step != nil {
		return []Step{*u.Step}
	}
	return nil
}

// Chain is a named, validated sequence of units plus output settings.
type Chain struct {
	Name              string `json:"name" yaml:"name"`
	Units             []Unit `json:"units" yaml:"units"`
	OutputDir         string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	TempDir           string `json:"temp_dir,omitempty" yaml:"temp_dir,omitempty"`
	CleanupTemp       bool   `json:"cleanup_temp,omitempty" yaml:"cleanup_temp,omitempty"`
	SaveIntermediates bool   `json:"save_intermediates,omitempty" yaml:"save_intermediates,omitempty"`
}

// Steps returns every step of the chain flattened in declaration order.
func (c *Chain) Steps() []Step {
	var steps []Step
	for _, u := range c.Units {
		steps = append(steps, u.Steps()...)
	}
	return steps
}

// TotalSteps counts every declared step, group members included.
func (c *Chain) TotalSteps() int {
	n := 0
	for _, u := range c.Units {
		n += len(u.Steps())
	}
	return n
}

// InputKind reports what the chain expects as its initial input, derived
// from the first step's type.
func (c *Chain) InputKind() string {
	steps := c.Steps()
	if len(steps) == 0 {
		return "text"
	}
	switch steps[0].Type {
	case StepTypeTextToImage, StepTypePromptGeneration:
		return "text"
	case StepTypeImageToImage, StepTypeImageUnderstanding, StepTypeImageToVideo:
		return "image"
	case StepTypeAddAudio, StepTypeUpscaleVideo:
		return "video"
	default:
		return "text"
	}
}
