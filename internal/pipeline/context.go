package pipeline

import (
	"github.com/contentpipe/contentpipe/internal/chain"
)

// Context is the run's accumulating store of named step outputs plus the
// original input. The executor owns the canonical Context; concurrent
// workers each own a private deep copy taken at dispatch, so no mutable
// structure is ever shared during parallel execution.
type Context struct {
	input   interface{}
	outputs map[string]interface{}
}

// NewContext creates an empty context for a run with the given input.
func NewContext(input interface{}) *Context {
	return &Context{
		input:   input,
		outputs: make(map[string]interface{}),
	}
}

// Input returns the run's original input.
func (c *Context) Input() interface{} {
	return c.input
}

// Lookup resolves a reference target: the reserved input name or a
// published output.
func (c *Context) Lookup(name string) (interface{}, bool) {
	if name == chain.InputRef {
		return c.input, true
	}
	v, ok := c.outputs[name]
	return v, ok
}

// Publish stores a produced value under an output name.
func (c *Context) Publish(name string, value interface{}) {
	c.outputs[name] = value
}

// Len reports how many outputs have been published.
func (c *Context) Len() int {
	return len(c.outputs)
}

// Outputs returns a shallow copy of the published outputs for reporting.
func (c *Context) Outputs() map[string]interface{} {
	out := make(map[string]interface{}, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// Clone deep-copies the context, recursively copying every nested map and
// slice so the copy shares no mutable structure with the original.
func (c *Context) Clone() *Context {
	return &Context{
		input:   DeepCopyValue(c.input),
		outputs: DeepCopyValue(c.outputs).(map[string]interface{}),
	}
}

// DeepCopyValue recursively copies nested maps and slices. Scalars and
// unrecognized types pass through unchanged; values stored in a context
// are expected to be JSON-shaped (maps, slices, strings, numbers, bools).
func DeepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, nested := range t {
			out[k] = DeepCopyValue(nested)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, nested := range t {
			out[i] = DeepCopyValue(nested)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
