package pipeline

import (
	"fmt"

	"github.com/contentpipe/contentpipe/internal/chain"
)

// Resolved holds a step's inputs after reference resolution: the value
// flowing in through input_from and the fully substituted params.
type Resolved struct {
	Input  interface{}
	Params map[string]interface{}
}

// Resolve produces the step's resolved inputs against the context. It is
// pure: neither the step nor the context is mutated, and resolving twice
// against the same context yields the same result. A reference to an
// absent name fails here, before any operation is dispatched. After
// substitution the params are checked against the step type's schema.
func Resolve(step *chain.Step, ctx *Context) (*Resolved, *StepError) {
	var input interface{}
	if step.InputFrom == "" {
		input = ctx.Input()
	} else {
		var missing string
		input, missing = resolveValue(step.InputFrom, ctx)
		if missing != "" {
			return nil, unresolvedErr(step.Name, missing)
		}
	}

	params, missing := resolveParams(step.Params, ctx)
	if missing != "" {
		return nil, unresolvedErr(step.Name, missing)
	}

	if err := chain.ValidateStepParams(step.Type, params); err != nil {
		return nil, validationErr(step.Name, err)
	}

	return &Resolved{Input: input, Params: params}, nil
}

// resolveParams builds a new map with every reference substituted. The
// input map is never mutated.
func resolveParams(params map[string]interface{}, ctx *Context) (map[string]interface{}, string) {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		resolved, missing := resolveValue(v, ctx)
		if missing != "" {
			return nil, missing
		}
		out[k] = resolved
	}
	return out, ""
}

// resolveValue substitutes references in one value, recursing into nested
// maps and slices. A string that is exactly one reference resolves to the
// referenced value with its original type; references embedded in longer
// strings substitute their string form in place.
func resolveValue(v interface{}, ctx *Context) (interface{}, string) {
	switch t := v.(type) {
	case string:
		if target, ok := chain.ExactRef(t); ok {
			value, found := ctx.Lookup(target)
			if !found {
				return nil, target
			}
			return value, ""
		}
		out, missing := chain.ReplaceRefs(t, func(target string) (string, bool) {
			value, found := ctx.Lookup(target)
			if !found {
				return "", false
			}
			return stringify(value), true
		})
		if missing != "" {
			return nil, missing
		}
		return out, ""
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, nested := range t {
			resolved, missing := resolveValue(nested, ctx)
			if missing != "" {
				return nil, missing
			}
			out[k] = resolved
		}
		return out, ""
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, nested := range t {
			resolved, missing := resolveValue(nested, ctx)
			if missing != "" {
				return nil, missing
			}
			out[i] = resolved
		}
		return out, ""
	default:
		return v, ""
	}
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
