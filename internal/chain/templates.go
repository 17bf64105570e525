package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Templates is a registry of built-in chain definitions usable by name
// without a config file.
type Templates struct {
	chains map[string]func() *Chain
}

// NewTemplates returns the registry with every built-in template loaded.
func NewTemplates() *Templates {
	t := &Templates{chains: make(map[string]func() *Chain)}
	t.chains["simple_text_to_image"] = simpleTextToImage
	t.chains["quick_video"] = quickVideo
	t.chains["full_content_creation"] = fullContentCreation
	t.chains["image_variants"] = imageVariants
	return t
}

// Names lists the available template names, sorted.
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.chains))
	for name := range t.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get builds a fresh chain from a template. Each call returns an
// independent value safe to normalize and execute.
func (t *Templates) Get(name string) (*Chain, error) {
	build, ok := t.chains[name]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", name)
	}
	return build(), nil
}

func simpleTextToImage() *Chain {
	return &Chain{
		Name: "simple_text_to_image",
		Units: []Unit{
			{Step: &Step{
				Name:  "generate_image",
				Type:  StepTypeTextToImage,
				Model: "flux_dev",
				Params: map[string]interface{}{
					"aspect_ratio": "16:9",
					"style":        "cinematic",
				},
			}},
		},
		OutputDir:   "output",
		CleanupTemp: true,
	}
}

// quickVideo is the text -> image -> video shortcut used by the
// quick-video command; models default to auto so the catalog picks.
func quickVideo() *Chain {
	return &Chain{
		Name: "quick_video",
		Units: []Unit{
			{Step: &Step{
				Name:  "generate_image",
				Type:  StepTypeTextToImage,
				Model: AutoModel,
				Params: map[string]interface{}{
					"aspect_ratio": "16:9",
				},
			}},
			{Step: &Step{
				Name:  "animate",
				Type:  StepTypeImageToVideo,
				Model: AutoModel,
				Params: map[string]interface{}{
					"duration": 8,
				},
			}},
		},
		OutputDir:   "output",
		TempDir:     "temp",
		CleanupTemp: true,
	}
}

func fullContentCreation() *Chain {
	return &Chain{
		Name: "full_content_creation",
		Units: []Unit{
			{Step: &Step{
				Name:  "generate_image",
				Type:  StepTypeTextToImage,
				Model: "flux_dev",
				Params: map[string]interface{}{
					"aspect_ratio": "16:9",
					"style":        "cinematic",
				},
			}},
			{Step: &Step{
				Name:  "animate",
				Type:  StepTypeImageToVideo,
				Model: "veo3",
				Params: map[string]interface{}{
					"duration":     8,
					"motion_level": "medium",
				},
			}},
			{Step: &Step{
				Name:  "soundtrack",
				Type:  StepTypeAddAudio,
				Model: "thinksound",
				Params: map[string]interface{}{
					"prompt": "epic cinematic soundtrack",
				},
			}},
		},
		OutputDir:         "output",
		TempDir:           "temp",
		CleanupTemp:       true,
		SaveIntermediates: false,
	}
}

// imageVariants renders the same prompt on three models concurrently,
// then animates the first variant that succeeded.
func imageVariants() *Chain {
	return &Chain{
		Name: "image_variants",
		Units: []Unit{
			{Group: &Group{
				Name:          "variants",
				MergeStrategy: MergeFirstSuccess,
				OutputName:    "best_variant",
				Steps: []Step{
					{Name: "variant_flux", Type: StepTypeTextToImage, Model: "flux_dev"},
					{Name: "variant_imagen", Type: StepTypeTextToImage, Model: "imagen4"},
					{Name: "variant_seedream", Type: StepTypeTextToImage, Model: "seedream_v3"},
				},
			}},
			{Step: &Step{
				Name:      "animate",
				Type:      StepTypeImageToVideo,
				Model:     "hailuo",
				InputFrom: "{{best_variant}}",
				Params: map[string]interface{}{
					"duration": 6,
				},
			}},
		},
		OutputDir:   "output",
		TempDir:     "temp",
		CleanupTemp: true,
	}
}

// WriteExamples emits example chain configuration files into dir.
func WriteExamples(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create examples dir: %w", err)
	}

	examples := map[string]*Chain{
		"simple_chain.yaml":   simpleTextToImage(),
		"full_chain.yaml":     fullContentCreation(),
		"variants_chain.yaml": imageVariants(),
	}

	for filename, c := range examples {
		data, err := yaml.Marshal(toConfig(c))
		if err != nil {
			return fmt.Errorf("failed to marshal example %s: %w", filename, err)
		}
		if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
			return fmt.Errorf("failed to write example %s: %w", filename, err)
		}
	}

	return nil
}

// toConfig converts a chain back to its file representation so examples
// round-trip through Load.
func toConfig(c *Chain) *fileConfig {
	cfg := &fileConfig{
		Name:              c.Name,
		OutputDir:         c.OutputDir,
		TempDir:           c.TempDir,
		CleanupTemp:       c.CleanupTemp,
		SaveIntermediates: c.SaveIntermediates,
	}

	for _, u := range c.Units {
		if g := u.Group; g != nil {
			gc := stepConfig{
				Name:          g.Name,
				Type:          parallelGroupType,
				MergeStrategy: string(g.MergeStrategy),
				OutputName:    g.OutputName,
			}
			for i := range g.Steps {
				gc.Steps = append(gc.Steps, stepToConfig(&g.Steps[i]))
			}
			cfg.Steps = append(cfg.Steps, gc)
			continue
		}
		cfg.Steps = append(cfg.Steps, stepToConfig(u.Step))
	}

	return cfg
}

func stepToConfig(s *Step) stepConfig {
	return stepConfig{
		Name:       s.Name,
		Type:       string(s.Type),
		Model:      s.Model,
		Params:     s.Params,
		InputFrom:  s.InputFrom,
		OutputName: s.OutputName,
		Optional:   s.Optional,
		Timeout:    s.Timeout,
	}
}
