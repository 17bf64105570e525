package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// parallelGroupType marks a config step entry as a parallel group of
// nested steps rather than a single operation.
const parallelGroupType = "parallel_group"

// fileConfig mirrors a chain configuration file.
type fileConfig struct {
	Name              string       `yaml:"name" json:"name"`
	Steps             []stepConfig `yaml:"steps" json:"steps"`
	OutputDir         string       `yaml:"output_dir" json:"output_dir"`
	TempDir           string       `yaml:"temp_dir" json:"temp_dir"`
	CleanupTemp       bool         `yaml:"cleanup_temp" json:"cleanup_temp"`
	SaveIntermediates bool         `yaml:"save_intermediates" json:"save_intermediates"`
}

// stepConfig is one entry of a config's steps list. A parallel_group entry
// carries nested steps and merge settings instead of model/params.
type stepConfig struct {
	Name          string                 `yaml:"name" json:"name"`
	Type          string                 `yaml:"type" json:"type"`
	Model         string                 `yaml:"model" json:"model"`
	Params        map[string]interface{} `yaml:"params" json:"params"`
	InputFrom     string                 `yaml:"input_from" json:"input_from"`
	OutputName    string                 `yaml:"output_name" json:"output_name"`
	Optional      bool                   `yaml:"optional" json:"optional"`
	Timeout       string                 `yaml:"timeout" json:"timeout"`
	MergeStrategy string                 `yaml:"merge_strategy" json:"merge_strategy"`
	Steps         []stepConfig           `yaml:"steps" json:"steps"`
}

// Load reads a chain configuration from a YAML or JSON file, picked by
// extension, and returns the parsed chain before normalization.
func Load(path string) (*Chain, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return Parse(data, "yaml")
	case ".json":
		return Parse(data, "json")
	default:
		return nil, fmt.Errorf("unsupported chain config format: %s", filepath.Ext(path))
	}
}

// Marshal renders a chain back into config file form so it can be
// stored and parsed again later.
func Marshal(c *Chain, format string) ([]byte, error) {
	cfg := toConfig(c)

	switch format {
	case "yaml":
		return yaml.Marshal(cfg)
	case "json":
		return json.MarshalIndent(cfg, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported chain config format: %s", format)
	}
}

// Parse decodes a chain configuration from raw bytes in the given format
// ("yaml" or "json").
func Parse(data []byte, format string) (*Chain, error) {
	var cfg fileConfig

	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML chain config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON chain config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported chain config format: %s", format)
	}

	return fromConfig(&cfg)
}

func fromConfig(cfg *fileConfig) (*Chain, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("chain config missing name")
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("chain %s has no steps", cfg.Name)
	}

	c := &Chain{
		Name:              cfg.Name,
		OutputDir:         cfg.OutputDir,
		TempDir:           cfg.TempDir,
		CleanupTemp:       cfg.CleanupTemp,
		SaveIntermediates: cfg.SaveIntermediates,
	}

	for i, sc := range cfg.Steps {
		if sc.Type == parallelGroupType {
			group, err := groupFromConfig(i, &sc)
			if err != nil {
				return nil, err
			}
			c.Units = append(c.Units, Unit{Group: group})
			continue
		}

		step, err := stepFromConfig(i, &sc)
		if err != nil {
			return nil, err
		}
		c.Units = append(c.Units, Unit{Step: step})
	}

	return c, nil
}

func stepFromConfig(index int, sc *stepConfig) (*Step, error) {
	if sc.Type == "" {
		return nil, fmt.Errorf("step %d: missing type", index+1)
	}
	if len(sc.Steps) > 0 {
		return nil, fmt.Errorf("step %d (%s): nested steps are only valid under %s", index+1, sc.Name, parallelGroupType)
	}

	name := sc.Name
	if name == "" {
		name = fmt.Sprintf("step_%d_%s", index+1, sc.Type)
	}

	return &Step{
		Name:       name,
		Type:       StepType(sc.Type),
		Model:      sc.Model,
		Params:     sc.Params,
		InputFrom:  sc.InputFrom,
		OutputName: sc.OutputName,
		Optional:   sc.Optional,
		Timeout:    sc.Timeout,
	}, nil
}

func groupFromConfig(index int, sc *stepConfig) (*Group, error) {
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("step %d: %s has no member steps", index+1, parallelGroupType)
	}

	name := sc.Name
	if name == "" {
		name = fmt.Sprintf("group_%d", index+1)
	}

	strategy := MergeStrategy(sc.MergeStrategy)
	if strategy == "" {
		strategy = MergeCollectAll
	}

	group := &Group{
		Name:          name,
		MergeStrategy: strategy,
		OutputName:    sc.OutputName,
	}

	for j, member := range sc.Steps {
		if member.Type == parallelGroupType {
			return nil, fmt.Errorf("group %s: nested parallel groups are not supported", name)
		}
		step, err := stepFromConfig(j, &member)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", name, err)
		}
		if step.Name == fmt.Sprintf("step_%d_%s", j+1, member.Type) {
			step.Name = fmt.Sprintf("%s_%s", name, step.Name)
		}
		group.Steps = append(group.Steps, *step)
	}

	return group, nil
}
