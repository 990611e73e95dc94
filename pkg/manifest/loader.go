package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a rules manifest from path. An empty path yields Default().
func Load(path string) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("rules file not found: %s", path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("rules file not readable: %s", path)
	case err != nil:
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes decodes a YAML or JSON manifest, validates it against the
// embedded schema, overlays it on the defaults and runs Check.
//
// name only labels errors. JSON needs no special handling since every JSON
// document is also YAML.
func LoadFromBytes(data []byte, name string) (*Rules, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("rules %s: empty document", label(name))
	}

	doc, err := normalize(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", label(name), err)
	}

	// The schema sees the document as written so unknown keys are caught
	// before the typed decode would silently drop them.
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	rules := Default()
	if err := json.Unmarshal(doc, rules); err != nil {
		return nil, fmt.Errorf("rules %s: %w", label(name), err)
	}
	if err := rules.Check(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Marshal renders rules as YAML.
func Marshal(r *Rules) ([]byte, error) {
	out, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("render rules: %w", err)
	}
	return out, nil
}

// normalize turns a YAML document into its JSON equivalent.
func normalize(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("document must be a mapping, got %T", v)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	return out, nil
}

func label(name string) string {
	if name == "" {
		return "<input>"
	}
	return name
}
