package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/wk8/go-ordered-map/v2"
)

// Schema builds a JSON Schema object describing s's parameters, used to
// (a) translate the registry into a provider's native tool schema when
// tool_format=tool is active (spec.md §4.5), and (b) validate a parsed
// invocation's kwargs before dispatch (spec.md §4.3, §7
// ToolInvocationError).
func (s Spec) Schema() *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string
	for _, p := range s.Parameters {
		props.Set(p.Name, &jsonschema.Schema{
			Type:        jsonSchemaType(p.Type),
			Description: p.Description,
		})
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &jsonschema.Schema{
		Type:        "object",
		Title:       s.Name,
		Description: s.Description,
		Properties:  props,
		Required:    required,
	}
}

func jsonSchemaType(t string) string {
	switch t {
	case "", "string":
		return "string"
	case "int", "integer":
		return "integer"
	case "float", "number":
		return "number"
	case "bool", "boolean":
		return "boolean"
	case "array", "list":
		return "array"
	case "object", "map":
		return "object"
	default:
		return t
	}
}

// ValidateKwargs checks a parsed invocation's kwargs against s's schema,
// returning a ToolInvocationError (spec.md §7) on the first mismatch.
// Tools with no declared parameters accept any kwargs.
func (s Spec) ValidateKwargs(kwargs map[string]string) error {
	if len(s.Parameters) == 0 {
		return nil
	}

	schemaBytes, err := json.Marshal(s.Schema())
	if err != nil {
		return fmt.Errorf("tool: marshal schema for %s: %w", s.Name, err)
	}

	compiler := jsonschemav5.NewCompiler()
	resourceURL := "mem://kiln/" + s.Name + ".json"
	if err := compiler.AddResource(resourceURL, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("tool: add schema resource for %s: %w", s.Name, err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("tool: compile schema for %s: %w", s.Name, err)
	}

	instance := make(map[string]interface{}, len(kwargs))
	for k, v := range kwargs {
		instance[k] = v
	}
	if err := compiled.Validate(instance); err != nil {
		return &InvocationError{Tool: s.Name, Err: err}
	}
	return nil
}

// InvocationError is spec.md §7's ToolInvocationError: a parse/validation
// failure that the loop reports back as a system message so the model
// can correct itself, rather than a fatal error.
type InvocationError struct {
	Tool string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invalid invocation for tool %q: %v", e.Tool, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }
