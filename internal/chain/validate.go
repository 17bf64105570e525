package chain

import (
	"fmt"
	"strings"
)

// Normalize fills in defaulted fields: "auto" or empty models become the
// catalog default, output names default to step names, and input_from
// defaults to the run input for the first unit and the previous unit's
// output afterwards. Group members never default to each other.
func (c *Chain) Normalize(cat *Catalog) {
	prev := ""

	for i := range c.Units {
		u := &c.Units[i]

		if u.Step != nil {
			normalizeStep(u.Step, cat, prev)
			prev = u.Step.OutputName
			continue
		}

		if u.Group != nil {
			g := u.Group
			if g.MergeStrategy == "" {
				g.MergeStrategy = MergeCollectAll
			}
			for j := range g.Steps {
				normalizeStep(&g.Steps[j], cat, prev)
			}
			if g.OutputName != "" {
				prev = g.OutputName
			} else if len(g.Steps) > 0 {
				prev = g.Steps[len(g.Steps)-1].OutputName
			}
		}
	}
}

func normalizeStep(s *Step, cat *Catalog, prev string) {
	if s.Model == "" || s.Model == AutoModel {
		if def, ok := cat.DefaultModel(s.Type); ok {
			s.Model = def
		}
	}
	if s.OutputName == "" {
		s.OutputName = s.Name
	}
	if s.InputFrom == "" {
		if prev == "" {
			s.InputFrom = fmt.Sprintf("{{%s}}", InputRef)
		} else {
			s.InputFrom = fmt.Sprintf("{{%s}}", prev)
		}
	}
}

// Validate checks the chain's structural invariants: unique step and
// output names, known (type, model) pairs, parseable timeouts, and
// references that only point backwards in declaration order. Group
// members must not reference each other. All problems are collected into
// a single error.
func (c *Chain) Validate(cat *Catalog) error {
	var problems []string

	if c.Name == "" {
		problems = append(problems, "chain has no name")
	}
	if len(c.Units) == 0 {
		problems = append(problems, "chain has no steps")
	}

	names := make(map[string]bool)
	outputs := make(map[string]bool)
	published := map[string]bool{InputRef: true}

	for _, u := range c.Units {
		if u.Step == nil && u.Group == nil {
			problems = append(problems, "unit with neither step nor group")
			continue
		}
		if u.Step != nil && u.Group != nil {
			problems = append(problems, fmt.Sprintf("unit %s is both step and group", u.Name()))
			continue
		}

		if g := u.Group; g != nil {
			if names[g.Name] {
				problems = append(problems, fmt.Sprintf("duplicate name %q", g.Name))
			}
			names[g.Name] = true

			if g.MergeStrategy != MergeCollectAll && g.MergeStrategy != MergeFirstSuccess {
				problems = append(problems, fmt.Sprintf("group %s: unknown merge strategy %q", g.Name, g.MergeStrategy))
			}
			if len(g.Steps) == 0 {
				problems = append(problems, fmt.Sprintf("group %s has no member steps", g.Name))
			}

			siblings := make(map[string]bool, len(g.Steps))
			for i := range g.Steps {
				siblings[g.Steps[i].OutputName] = true
			}

			for i := range g.Steps {
				s := &g.Steps[i]
				problems = append(problems, validateStep(s, cat, names, outputs)...)
				for _, target := range StepRefs(s) {
					if siblings[target] {
						problems = append(problems, fmt.Sprintf("step %s references sibling output %q inside group %s", s.Name, target, g.Name))
						continue
					}
					if !published[target] {
						problems = append(problems, fmt.Sprintf("step %s references unknown output %q", s.Name, target))
					}
				}
			}

			// Group outputs become visible only after the whole group.
			for i := range g.Steps {
				published[g.Steps[i].OutputName] = true
			}
			if g.OutputName != "" {
				if outputs[g.OutputName] {
					problems = append(problems, fmt.Sprintf("duplicate output name %q", g.OutputName))
				}
				outputs[g.OutputName] = true
				published[g.OutputName] = true
			}
			continue
		}

		s := u.Step
		problems = append(problems, validateStep(s, cat, names, outputs)...)
		for _, target := range StepRefs(s) {
			if !published[target] {
				problems = append(problems, fmt.Sprintf("step %s references unknown output %q", s.Name, target))
			}
		}
		published[s.OutputName] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("chain %s: %s", c.Name, strings.Join(problems, "; "))
	}
	return nil
}

func validateStep(s *Step, cat *Catalog, names, outputs map[string]bool) []string {
	var problems []string

	if s.Name == "" {
		problems = append(problems, "step with no name")
	} else if names[s.Name] {
		problems = append(problems, fmt.Sprintf("duplicate name %q", s.Name))
	}
	names[s.Name] = true

	if !cat.HasType(s.Type) {
		problems = append(problems, fmt.Sprintf("step %s: unknown type %q", s.Name, s.Type))
	} else if s.Model == "" || s.Model == AutoModel {
		problems = append(problems, fmt.Sprintf("step %s: no model available for type %q", s.Name, s.Type))
	} else if !cat.Has(s.Type, s.Model) {
		problems = append(problems, fmt.Sprintf("step %s: unknown model %q for type %q", s.Name, s.Model, s.Type))
	}

	if s.OutputName != "" {
		if s.OutputName == InputRef {
			problems = append(problems, fmt.Sprintf("step %s: output name %q is reserved", s.Name, InputRef))
		}
		if outputs[s.OutputName] {
			problems = append(problems, fmt.Sprintf("duplicate output name %q", s.OutputName))
		}
		outputs[s.OutputName] = true
	}

	if _, err := s.TimeoutDuration(); err != nil {
		problems = append(problems, err.Error())
	}

	return problems
}
