package chain

import (
	"regexp"
	"strings"
)

// InputRef is the reserved reference target for the run's original input.
const InputRef = "input"

// refPattern matches a reference expression like {{step_name}},
// {{step_name.output}} or {{input}}.
var refPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_][a-zA-Z0-9_\-]*(?:\.output)?)\s*\}\}`)

// RefTarget normalizes a matched reference body to the output name it
// points at, stripping the optional ".output" suffix.
func RefTarget(body string) string {
	return strings.TrimSuffix(body, ".output")
}

// ExactRef reports whether s is exactly one reference expression and
// returns its target. Exact references resolve to the referenced value
// with its original type instead of a string substitution.
func ExactRef(s string) (string, bool) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil || m[0] != strings.TrimSpace(s) {
		return "", false
	}
	return RefTarget(m[1]), true
}

// Refs returns the reference targets embedded in s, in order.
func Refs(s string) []string {
	var targets []string
	for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
		targets = append(targets, RefTarget(m[1]))
	}
	return targets
}

// ReplaceRefs substitutes every reference in s using lookup. The second
// return is the first target lookup reported missing, if any.
func ReplaceRefs(s string, lookup func(target string) (string, bool)) (string, string) {
	missing := ""
	out := refPattern.ReplaceAllStringFunc(s, func(match string) string {
		body := refPattern.FindStringSubmatch(match)[1]
		target := RefTarget(body)
		v, ok := lookup(target)
		if !ok {
			if missing == "" {
				missing = target
			}
			return match
		}
		return v
	})
	return out, missing
}

// ValueRefs walks v recursively and collects every reference target found
// in string values, including inside nested maps and slices.
func ValueRefs(v interface{}) []string {
	var targets []string
	walkRefs(v, &targets)
	return targets
}

func walkRefs(v interface{}, targets *[]string) {
	switch t := v.(type) {
	case string:
		*targets = append(*targets, Refs(t)...)
	case map[string]interface{}:
		for _, nested := range t {
			walkRefs(nested, targets)
		}
	case []interface{}:
		for _, nested := range t {
			walkRefs(nested, targets)
		}
	}
}

// StepRefs collects every reference target a step declares, from both
// input_from and its params.
func StepRefs(s *Step) []string {
	var targets []string
	if s.InputFrom != "" {
		targets = append(targets, Refs(s.InputFrom)...)
	}
	targets = append(targets, ValueRefs(s.Params)...)
	return targets
}
