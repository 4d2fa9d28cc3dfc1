// Package imagemap maps user-message keywords to knowledge-base images, so
// curated visuals can join a response even when the model never cites a URL.
package imagemap

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Entry struct {
	URL      string   `yaml:"url"`
	Title    string   `yaml:"title"`
	Keywords []string `yaml:"keywords"`
}

type Map struct {
	Images []Entry `yaml:"images"`
}

// Load reads a keyword map document. Entries must carry a URL and at least
// one keyword; a document that defines none is an error since a configured
// map that can never match is a mistake worth surfacing at startup.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("imagemap: read %s: %w", path, err)
	}
	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("imagemap: parse %s: %w", path, err)
	}
	for i, entry := range m.Images {
		if strings.TrimSpace(entry.URL) == "" {
			return nil, fmt.Errorf("imagemap: entry %d has no url", i)
		}
		if len(entry.Keywords) == 0 {
			return nil, fmt.Errorf("imagemap: entry %d (%s) has no keywords", i, entry.URL)
		}
	}
	if len(m.Images) == 0 {
		return nil, fmt.Errorf("imagemap: %s defines no images", path)
	}
	return &m, nil
}

// Match returns the entries whose keywords appear in the text, in document
// order, each entry at most once. Matching is case-insensitive substring
// containment.
func (m *Map) Match(text string) []Entry {
	if m == nil || text == "" {
		return nil
	}
	lowered := strings.ToLower(text)
	var out []Entry
	for _, entry := range m.Images {
		for _, kw := range entry.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if strings.Contains(lowered, kw) {
				out = append(out, entry)
				break
			}
		}
	}
	return out
}
