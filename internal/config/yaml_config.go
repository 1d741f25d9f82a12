package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownKeys are the settings lm reads. `lm config set` refuses anything
// else so typos do not silently do nothing.
var KnownKeys = map[string]string{
	KeyHome:               "data directory (default ~/LinearManager)",
	KeyTracker:            "remote tracker name",
	KeyBaseBranch:         "base branch for new worktrees",
	KeyPullLimit:          "issues per team for pull",
	KeyPullOutput:         "output directory for pull",
	KeyPullFormat:         "manifest format written by pull (yaml, json, toml)",
	KeyDefaultTeam:        "team key used by add when none is given",
	KeyLinearAPIKey:       "Linear API key",
	"linear.api_endpoint": "Linear GraphQL endpoint",
	"linear.timeout":      "HTTP timeout per request",
	"sync.concurrency":    "teams resolved in parallel",
	"sync.max_attempts":   "attempts per remote call",
	"sync.retry_initial":  "first retry delay",
	"sync.retry_max":      "longest retry delay",
	"sync.done_state":     "state used by --mark-done",
}

// IsKnownKey reports whether key is a setting lm reads.
func IsKnownKey(key string) bool {
	_, ok := KnownKeys[key]
	return ok
}

// SortedKnownKeys lists KnownKeys alphabetically.
func SortedKnownKeys() []string {
	keys := make([]string, 0, len(KnownKeys))
	for k := range KnownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ConfigFilePath is the file written by SetYamlConfig.
func ConfigFilePath() string {
	if used := ConfigFileUsed(); used != "" {
		return used
	}
	return filepath.Join(Home(), ConfigFileName)
}

// SetYamlConfig sets key in config.yaml, creating the file if needed.
// Dotted keys become nested mappings; comments elsewhere in the file are
// preserved.
func SetYamlConfig(key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(SortedKnownKeys(), ", "))
	}
	path := ConfigFilePath()

	content, err := os.ReadFile(path) // #nosec G304 - path is the lm config file
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	newContent, err := updateYamlKey(content, key, value)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, newContent, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if v != nil {
		v.Set(key, value)
	}
	return nil
}

// updateYamlKey sets a dotted key in yaml content.
func updateYamlKey(content []byte, key, value string) ([]byte, error) {
	var doc yaml.Node
	if len(bytes.TrimSpace(content)) > 0 {
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config root must be a mapping")
	}

	parts := strings.Split(key, ".")
	node := root
	for _, part := range parts[:len(parts)-1] {
		child := mappingValue(node, part)
		if child == nil || child.Kind != yaml.MappingNode {
			fresh := &yaml.Node{Kind: yaml.MappingNode}
			setMappingValue(node, part, fresh)
			child = fresh
		}
		node = child
	}
	setMappingValue(node, parts[len(parts)-1], formatYamlValue(value))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			value.HeadComment = m.Content[i+1].HeadComment
			value.LineComment = m.Content[i+1].LineComment
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
}

// formatYamlValue keeps booleans and numbers typed; everything else is a
// string.
func formatYamlValue(value string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Value: value, Tag: "!!str"}
	lower := strings.ToLower(value)
	switch {
	case lower == "true" || lower == "false":
		n.Value, n.Tag = lower, "!!bool"
	case isNumeric(value):
		n.Tag = "!!int"
		if strings.Contains(value, ".") {
			n.Tag = "!!float"
		}
	}
	return n
}

func isNumeric(s string) bool {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil && !strings.ContainsAny(s, "eEnN")
}
