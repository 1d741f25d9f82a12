package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Document keys for the grouped form.
const (
	keyDefaults = "defaults"
	keyIssues   = "issues"
)

// Format is a manifest serialization format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	case ".toml":
		return FormatTOML, true
	}
	return "", false
}

// Document is one manifest file. It is either a single flat entry or a
// defaults block plus a list of issues.
type Document struct {
	Path     string
	Flat     bool
	Defaults RawEntry
	Issues   []RawEntry
}

// Item is one raw entry with the defaults that apply to it.
type Item struct {
	Raw      RawEntry
	Defaults RawEntry
	Source   Source
}

// Items returns the document's entries in document order.
func (d *Document) Items() []Item {
	if d.Flat {
		if len(d.Issues) == 0 {
			return nil
		}
		return []Item{{Raw: d.Issues[0], Source: Source{Path: d.Path}}}
	}
	items := make([]Item, len(d.Issues))
	for i, raw := range d.Issues {
		items[i] = Item{Raw: raw, Defaults: d.Defaults, Source: Source{Path: d.Path, Index: i + 1}}
	}
	return items
}

// Entries normalizes every item. Failed items are returned as errors at the
// same index; the slices always have len(d.Items()).
func (d *Document) Entries(n *Normalizer) ([]*Entry, []error) {
	if n == nil {
		n = defaultNormalizer
	}
	items := d.Items()
	entries := make([]*Entry, len(items))
	errs := make([]error, len(items))
	for i, item := range items {
		e, err := n.Normalize(item.Raw, item.Defaults)
		if err != nil {
			errs[i] = err
			continue
		}
		e.Source = item.Source
		entries[i] = e
	}
	return entries, errs
}

// LoadFile reads and decodes a manifest file.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path supplied by the user
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	format, ok := FormatForPath(path)
	if !ok {
		return nil, fmt.Errorf("unsupported manifest extension: %s", path)
	}
	doc, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.Path = path
	return doc, nil
}

// Decode parses manifest data in the given format.
func Decode(data []byte, format Format) (*Document, error) {
	var top map[string]any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &top); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &top); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &top); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}
	if top == nil {
		return nil, fmt.Errorf("manifest is empty")
	}

	rawIssues, grouped := top[keyIssues]
	if !grouped {
		if _, ok := top[keyDefaults]; ok {
			return nil, fmt.Errorf("manifest has defaults but no issues")
		}
		return &Document{Flat: true, Issues: []RawEntry{RawEntry(top)}}, nil
	}

	doc := &Document{}
	if d, ok := top[keyDefaults]; ok && d != nil {
		m, ok := asMap(d)
		if !ok {
			return nil, fmt.Errorf("defaults must be a mapping, got %T", d)
		}
		doc.Defaults = m
	}
	issues, err := asMapList(rawIssues)
	if err != nil {
		return nil, err
	}
	doc.Issues = issues
	return doc, nil
}

func asMap(v any) (RawEntry, bool) {
	switch m := v.(type) {
	case map[string]any:
		return RawEntry(m), true
	case RawEntry:
		return m, true
	}
	return nil, false
}

func asMapList(v any) ([]RawEntry, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		out := make([]RawEntry, len(list))
		for i, m := range list {
			out[i] = RawEntry(m)
		}
		return out, nil
	case []any:
		out := make([]RawEntry, 0, len(list))
		for i, item := range list {
			m, ok := asMap(item)
			if !ok {
				return nil, fmt.Errorf("issues[%d] must be a mapping, got %T", i, item)
			}
			out = append(out, m)
		}
		return out, nil
	}
	return nil, fmt.Errorf("issues must be a list, got %T", v)
}

// Encode serializes a document. Entries are written with canonical field
// order where the format allows it.
func Encode(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(documentNode(doc)); err != nil {
			return nil, fmt.Errorf("failed to encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(documentMap(doc), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON: %w", err)
		}
		return append(data, '\n'), nil
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(documentMap(doc)); err != nil {
			return nil, fmt.Errorf("failed to encode TOML: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown manifest format %q", format)
}

// WriteFile encodes doc in the format implied by path and writes it,
// creating parent directories as needed.
func WriteFile(path string, doc *Document) error {
	format, ok := FormatForPath(path)
	if !ok {
		return fmt.Errorf("unsupported manifest extension: %s", path)
	}
	data, err := Encode(doc, format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

func documentMap(doc *Document) map[string]any {
	if doc.Flat {
		if len(doc.Issues) == 0 {
			return map[string]any{}
		}
		return doc.Issues[0]
	}
	issues := make([]map[string]any, len(doc.Issues))
	for i, raw := range doc.Issues {
		issues[i] = raw
	}
	out := map[string]any{keyIssues: issues}
	if len(doc.Defaults) > 0 {
		out[keyDefaults] = map[string]any(doc.Defaults)
	}
	return out
}

func documentNode(doc *Document) *yaml.Node {
	if doc.Flat {
		if len(doc.Issues) == 0 {
			return &yaml.Node{Kind: yaml.MappingNode}
		}
		return entryNode(doc.Issues[0])
	}
	root := &yaml.Node{Kind: yaml.MappingNode}
	if len(doc.Defaults) > 0 {
		root.Content = append(root.Content, scalarNode(keyDefaults), entryNode(doc.Defaults))
	}
	list := &yaml.Node{Kind: yaml.SequenceNode}
	for _, raw := range doc.Issues {
		list.Content = append(list.Content, entryNode(raw))
	}
	root.Content = append(root.Content, scalarNode(keyIssues), list)
	return root
}

// entryNode lays out known fields in canonical order, followed by any
// unknown keys sorted by name.
func entryNode(raw RawEntry) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	done := make(map[string]bool, len(raw))
	for _, key := range canonicalOrder {
		v, ok := raw[key]
		if !ok {
			continue
		}
		done[key] = true
		node.Content = append(node.Content, scalarNode(key), valueNode(v))
	}
	var rest []string
	for key := range raw {
		if !done[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		node.Content = append(node.Content, scalarNode(key), valueNode(raw[key]))
	}
	return node
}

func scalarNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func valueNode(v any) *yaml.Node {
	if s, ok := v.(string); ok {
		n := scalarNode(s)
		if strings.Contains(s, "\n") {
			n.Style = yaml.LiteralStyle
		}
		return n
	}
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return scalarNode(fmt.Sprint(v))
	}
	return &n
}
