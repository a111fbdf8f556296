package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// formatOf picks the decoder by extension. Anything not YAML is JSON.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// coerceToJSONBytes converts YAML to JSON so both formats go through the
// same strict decoder. It returns the bytes and the detected format.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	format := formatOf(path)
	if format == "json" {
		return data, format, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, format, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		// An empty YAML document is an empty config.
		return []byte("{}"), format, nil
	}

	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, format, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, format, nil
}

// normalizeYAML rewrites non-string map keys so the tree is JSON-encodable.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
