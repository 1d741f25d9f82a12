package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover expands paths into manifest files. Files are kept in argument
// order; directories are walked recursively and contribute their manifest
// files in lexical order. Hidden directories are skipped.
func Discover(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(p string) {
		clean := filepath.Clean(p)
		if !seen[clean] {
			seen[clean] = true
			files = append(files, clean)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("manifest path %s: %w", p, err)
		}
		if !info.IsDir() {
			if _, ok := FormatForPath(p); !ok {
				return nil, fmt.Errorf("unsupported manifest extension: %s", p)
			}
			add(p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if _, ok := FormatForPath(path); ok {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}
	return files, nil
}

// LoadAll discovers and decodes every manifest under paths.
func LoadAll(paths []string) ([]*Document, error) {
	files, err := Discover(paths)
	if err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(files))
	for _, f := range files {
		doc, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// TeamFileName is the file name pull uses for a team's document.
func TeamFileName(teamKey string, format Format) string {
	if format == "" {
		format = FormatYAML
	}
	return strings.ToLower(teamKey) + "." + string(format)
}

// TeamDocument builds the grouped document for one team. The team key moves
// into defaults so entries stay short.
func TeamDocument(teamKey string, entries []*Entry) *Document {
	doc := &Document{
		Defaults: RawEntry{FieldTeamKey: teamKey},
		Issues:   make([]RawEntry, 0, len(entries)),
	}
	for _, e := range entries {
		raw := Denormalize(e)
		if strings.EqualFold(e.TeamKey, teamKey) {
			delete(raw, FieldTeamKey)
		}
		doc.Issues = append(doc.Issues, raw)
	}
	return doc
}
