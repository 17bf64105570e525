package chain

import (
	"fmt"
)

// FieldKind is the accepted value kind for a schema field.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
	FieldAny    FieldKind = "any"
)

// Field declares one parameter of a step type's schema.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Schema is the declared parameter set for a step type. Params beyond the
// declared fields pass through untouched so providers can accept extras.
type Schema struct {
	Fields []Field
}

// stepSchemas maps each step type to its parameter schema. The step's
// primary input (text, image or video) arrives through input_from, not
// params, so it is not declared here.
var stepSchemas = map[StepType]Schema{
	StepTypeTextToImage: {Fields: []Field{
		{Name: "aspect_ratio", Kind: FieldString},
		{Name: "style", Kind: FieldString},
		{Name: "negative_prompt", Kind: FieldString},
		{Name: "seed", Kind: FieldNumber},
	}},
	StepTypeImageToImage: {Fields: []Field{
		{Name: "prompt", Kind: FieldString, Required: true},
		{Name: "strength", Kind: FieldNumber},
		{Name: "guidance_scale", Kind: FieldNumber},
	}},
	StepTypeImageUnderstanding: {Fields: []Field{
		{Name: "question", Kind: FieldString},
		{Name: "detail_level", Kind: FieldString},
	}},
	StepTypePromptGeneration: {Fields: []Field{
		{Name: "style", Kind: FieldString},
		{Name: "target_model", Kind: FieldString},
	}},
	StepTypeImageToVideo: {Fields: []Field{
		{Name: "duration", Kind: FieldNumber},
		{Name: "motion_level", Kind: FieldString},
		{Name: "prompt", Kind: FieldString},
	}},
	StepTypeAddAudio: {Fields: []Field{
		{Name: "prompt", Kind: FieldString, Required: true},
		{Name: "volume", Kind: FieldNumber},
	}},
	StepTypeUpscaleVideo: {Fields: []Field{
		{Name: "scale", Kind: FieldNumber},
		{Name: "target_fps", Kind: FieldNumber},
	}},
}

// SchemaFor returns the parameter schema for a step type.
func SchemaFor(t StepType) (Schema, bool) {
	s, ok := stepSchemas[t]
	return s, ok
}

// Validate checks resolved params against the schema: required fields must
// be present and every declared field that is present must match its kind.
func (s Schema) Validate(params map[string]interface{}) error {
	for _, f := range s.Fields {
		v, present := params[f.Name]
		if !present {
			if f.Required {
				return fmt.Errorf("missing required param %q", f.Name)
			}
			continue
		}
		if !kindMatches(f.Kind, v) {
			return fmt.Errorf("param %q: expected %s, got %T", f.Name, f.Kind, v)
		}
	}
	return nil
}

func kindMatches(k FieldKind, v interface{}) bool {
	switch k {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldAny:
		return true
	}
	return false
}

// ValidateStepParams validates a step's resolved params against its
// type's schema.
func ValidateStepParams(t StepType, params map[string]interface{}) error {
	schema, ok := SchemaFor(t)
	if !ok {
		return fmt.Errorf("unknown step type %q", t)
	}
	if err := schema.Validate(params); err != nil {
		return fmt.Errorf("step type %s: %w", t, err)
	}
	return nil
}
