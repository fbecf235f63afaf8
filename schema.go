package ember

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchema wraps a compiled response-format schema for validating the
// agent's terminal text.
type compiledSchema struct {
	name   string
	schema *jsonschema.Schema
}

// compileResponseSchema compiles rs.Schema so mismatches surface at
// construction time rather than at the end of a run.
func compileResponseSchema(rs *ResponseSchema) (*compiledSchema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rs.Schema))
	if err != nil {
		return nil, &ErrParse{Message: "response schema: " + err.Error(), Err: err}
	}
	compiler := jsonschema.NewCompiler()
	url := "inline://response-schema.json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, &ErrParse{Message: "response schema: " + err.Error(), Err: err}
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, &ErrParse{Message: "response schema: " + err.Error(), Err: err}
	}
	return &compiledSchema{name: rs.Name, schema: schema}, nil
}

// validate checks the agent's terminal text against the schema.
func (c *compiledSchema) validate(text string) error {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return &ErrParse{Message: "structured output is not valid JSON: " + err.Error(), Err: err}
	}
	if err := c.schema.Validate(v); err != nil {
		return &ErrParse{Message: "structured output does not match schema " + c.name + ": " + err.Error(), Err: err}
	}
	return nil
}
