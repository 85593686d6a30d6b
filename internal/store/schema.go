package store

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/*.json
var schemaFiles embed.FS

// ErrInvalidAttributes is returned when an attributes file does not match
// its schema
var ErrInvalidAttributes = errors.New("attributes file does not match schema")

type validator struct {
	group   *jsonschema.Schema
	article *jsonschema.Schema
}

func newValidator() (*validator, error) {
	c := jsonschema.NewCompiler()
	compile := func(name string) (*jsonschema.Schema, error) {
		data, err := schemaFiles.ReadFile("schema/" + name)
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("failed to register schema %s: %w", name, err)
		}
		return c.Compile(name)
	}

	group, err := compile("group.json")
	if err != nil {
		return nil, err
	}
	article, err := compile("article.json")
	if err != nil {
		return nil, err
	}
	return &validator{group: group, article: article}, nil
}

// validate checks attrs read from p. Values decoded from YAML or TOML are
// normalised through JSON first so the schema sees JSON types.
func (v *validator) validate(schema *jsonschema.Schema, p string, attrs map[string]any) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to normalise %s: %w", p, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to normalise %s: %w", p, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAttributes, p, err)
	}
	return nil
}
