package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Attribute file formats
const (
	FormatYAML = "yml"
	FormatTOML = "toml"
	FormatJSON = "json"
)

// AttributeFormats lists the supported attribute file extensions, in lookup
// order
var AttributeFormats = []string{FormatYAML, "yaml", FormatTOML, FormatJSON}

type codec struct {
	decode func([]byte) (map[string]any, error)
	encode func(map[string]any) ([]byte, error)
}

var jsonCodec = codec{
	decode: func(data []byte) (map[string]any, error) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var out map[string]any
		if err := dec.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	},
	encode: func(data map[string]any) ([]byte, error) {
		// map keys are emitted sorted
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "    ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(data); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	},
}

var yamlCodec = codec{
	decode: func(data []byte) (map[string]any, error) {
		var out map[string]any
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	},
	encode: func(data map[string]any) ([]byte, error) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	},
}

var tomlCodec = codec{
	decode: func(data []byte) (map[string]any, error) {
		var out map[string]any
		if err := toml.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	},
	encode: func(data map[string]any) ([]byte, error) {
		return toml.Marshal(data)
	},
}

func codecFor(p string) (codec, error) {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(p), ".")) {
	case "json", "meta":
		return jsonCodec, nil
	case "yml", "yaml":
		return yamlCodec, nil
	case "toml":
		return tomlCodec, nil
	default:
		return codec{}, fmt.Errorf("no structured format for %s", p)
	}
}
