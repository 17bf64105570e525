package chain

import (
	"sort"
	"time"
)

// AutoModel selects the default model for a step type at normalization.
const AutoModel = "auto"

// ModelInfo describes one model variant of a step type.
type ModelInfo struct {
	Name     string        `json:"name"`
	Cost     float64       `json:"cost"` // USD per invocation
	Duration time.Duration `json:"duration"`
}

// Catalog is the table of known (type, model) operations with base costs
// and duration estimates. The first model listed for a type is its default.
type Catalog struct {
	models map[StepType][]ModelInfo
}

// NewCatalog returns the built-in model catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		models: map[StepType][]ModelInfo{
			StepTypeTextToImage: {
				{Name: "flux_dev", Cost: 0.03, Duration: 15 * time.Second},
				{Name: "flux_schnell", Cost: 0.003, Duration: 5 * time.Second},
				{Name: "imagen4", Cost: 0.04, Duration: 20 * time.Second},
				{Name: "seedream_v3", Cost: 0.03, Duration: 15 * time.Second},
			},
			StepTypeImageToImage: {
				{Name: "flux_kontext", Cost: 0.04, Duration: 20 * time.Second},
				{Name: "seededit_v3", Cost: 0.03, Duration: 15 * time.Second},
			},
			StepTypeImageUnderstanding: {
				{Name: "gemini_describe", Cost: 0.001, Duration: 5 * time.Second},
				{Name: "gemini_detailed", Cost: 0.002, Duration: 10 * time.Second},
			},
			StepTypePromptGeneration: {
				{Name: "openrouter_video", Cost: 0.002, Duration: 5 * time.Second},
				{Name: "openrouter_cinematic", Cost: 0.002, Duration: 5 * time.Second},
			},
			StepTypeImageToVideo: {
				{Name: "veo3", Cost: 2.50, Duration: 3 * time.Minute},
				{Name: "hailuo", Cost: 0.08, Duration: 2 * time.Minute},
				{Name: "kling_video", Cost: 0.10, Duration: 2 * time.Minute},
			},
			StepTypeAddAudio: {
				{Name: "thinksound", Cost: 0.05, Duration: 1 * time.Minute},
			},
			StepTypeUpscaleVideo: {
				{Name: "topaz", Cost: 1.50, Duration: 5 * time.Minute},
			},
		},
	}
}

// Types returns every known step type, sorted.
func (c *Catalog) Types() []StepType {
	types := make([]StepType, 0, len(c.models))
	for t := range c.models {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Models returns the model names available per step type.
func (c *Catalog) Models() map[StepType][]string {
	out := make(map[StepType][]string, len(c.models))
	for t, infos := range c.models {
		names := make([]string, 0, len(infos))
		for _, m := range infos {
			names = append(names, m.Name)
		}
		out[t] = names
	}
	return out
}

// Variants returns the full model table per step type, including costs
// and duration estimates.
func (c *Catalog) Variants() map[StepType][]ModelInfo {
	out := make(map[StepType][]ModelInfo, len(c.models))
	for t, infos := range c.models {
		out[t] = append([]ModelInfo(nil), infos...)
	}
	return out
}

// HasType reports whether the step type is known.
func (c *Catalog) HasType(t StepType) bool {
	_, ok := c.models[t]
	return ok
}

// Has reports whether the (type, model) pair is known.
func (c *Catalog) Has(t StepType, model string) bool {
	for _, m := range c.models[t] {
		if m.Name == model {
			return true
		}
	}
	return false
}

// DefaultModel returns the default model for a step type.
func (c *Catalog) DefaultModel(t StepType) (string, bool) {
	infos := c.models[t]
	if len(infos) == 0 {
		return "", false
	}
	return infos[0].Name, true
}

// CostOf returns the base USD cost for one invocation of (type, model).
// Unknown pairs cost zero. Params are accepted so pricing can depend on
// requested output size later without changing callers.
func (c *Catalog) CostOf(t StepType, model string, params map[string]interface{}) float64 {
	for _, m := range c.models[t] {
		if m.Name == model {
			return m.Cost
		}
	}
	return 0
}

// DurationOf returns the duration estimate for (type, model).
func (c *Catalog) DurationOf(t StepType, model string) time.Duration {
	for _, m := range c.models[t] {
		if m.Name == model {
			return m.Duration
		}
	}
	return 0
}
