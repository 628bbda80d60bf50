package config

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// YAML renders cfg the way it would be written in a config file
func YAML(cfg interface{}) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}

// Setting is one dotted key with its rendered value
type Setting struct {
	Key   string
	Value string
}

// Flatten renders cfg as sorted dotted keys, e.g. server.port=8765
func Flatten(cfg interface{}) ([]Setting, error) {
	data, err := YAML(cfg)
	if err != nil {
		return nil, err
	}

	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse rendered config: %w", err)
	}

	var settings []Setting
	flattenInto(&settings, "", tree)
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}

func flattenInto(out *[]Setting, prefix string, node map[string]interface{}) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := value.(map[string]interface{}); ok {
			flattenInto(out, full, child)
			continue
		}
		*out = append(*out, Setting{Key: full, Value: fmt.Sprint(value)})
	}
}

// Changed returns the settings of cfg whose value differs from defaults
func Changed(cfg, defaults interface{}) (map[string]bool, error) {
	current, err := Flatten(cfg)
	if err != nil {
		return nil, err
	}
	base, err := Flatten(defaults)
	if err != nil {
		return nil, err
	}

	baseValues := make(map[string]string, len(base))
	for _, s := range base {
		baseValues[s.Key] = s.Value
	}

	changed := make(map[string]bool)
	for _, s := range current {
		if baseValues[s.Key] != s.Value {
			changed[s.Key] = true
		}
	}
	return changed, nil
}
