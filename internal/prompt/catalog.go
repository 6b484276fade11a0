// Package prompt loads and renders the markdown prompt catalog.
//
// Each prompt lives in one .md file: YAML front matter carrying the
// metadata, then the template body. Templates use {variable} placeholders;
// {user_input} is always available at render time.
package prompt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/parleyhq/parley/internal/log"
)

// ErrPromptNotFound indicates no catalog entry carries the requested
// identifier. Rendering an unknown prompt is a hard failure, never a
// silent fallback.
var ErrPromptNotFound = errors.New("prompt not found")

// Defaults applied to entries whose front matter omits the field.
const (
	defaultTitle  = "Unnamed use case"
	defaultSystem = "You are a useful assistant"

	// missingVariablePlaceholder substitutes for template variables the
	// caller did not provide, so rendering never fails on a sparse input.
	missingVariablePlaceholder = "None provided, please try to help without this information."
)

// Metadata is the YAML front matter of one catalog entry.
type Metadata struct {
	Identifier  string   `yaml:"identifier"`
	Title       string   `yaml:"title"`
	System      string   `yaml:"system"`
	Categories  []string `yaml:"categories"`
	Description string   `yaml:"help_prompt_description"`
	SampleInput string   `yaml:"help_sample_input"`
}

// Entry is one loaded prompt: metadata plus template body.
type Entry struct {
	Metadata Metadata
	Template string
}

// Catalog is an immutable, lookup-by-identifier collection of prompts.
type Catalog struct {
	entries []Entry
	logger  log.Logger
}

// Load reads every .md file (except README.md) directly under dir, parses
// front matter and returns the catalog. Files are loaded in name order so
// the catalog is deterministic.
func Load(dir string, logger log.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	names, err := listPromptFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("listing prompt files in %q: %w", dir, err)
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading prompt file %q: %w", path, err)
		}

		entry, err := parseEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing prompt file %q: %w", path, err)
		}
		entries = append(entries, entry)
	}

	logger.Debug("loaded prompt catalog", "dir", dir, "prompts", len(entries))
	return &Catalog{entries: entries, logger: logger}, nil
}

// listPromptFiles returns the sorted .md file names under dir.
func listPromptFiles(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, ".md") || name == "README.md" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// parseEntry splits the YAML front matter from the template body and
// applies metadata defaults.
func parseEntry(raw []byte) (Entry, error) {
	meta, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return Entry{}, err
	}

	var metadata Metadata
	if meta != "" {
		if err := yaml.Unmarshal([]byte(meta), &metadata); err != nil {
			return Entry{}, fmt.Errorf("parsing front matter: %w", err)
		}
	}
	if metadata.Title == "" {
		metadata.Title = defaultTitle
	}
	if metadata.System == "" {
		metadata.System = defaultSystem
	}

	return Entry{
		Metadata: metadata,
		Template: body,
	}, nil
}

// splitFrontMatter separates a leading "---" delimited YAML block from the
// rest of the document. A document without front matter is all body.
func splitFrontMatter(doc string) (meta, body string, err error) {
	const delimiter = "---"

	trimmed := strings.TrimPrefix(doc, "\ufeff")
	if !strings.HasPrefix(trimmed, delimiter+"\n") && trimmed != delimiter {
		return "", doc, nil
	}

	rest := strings.TrimPrefix(trimmed, delimiter+"\n")
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return "", "", fmt.Errorf("unterminated front matter block")
	}

	meta = rest[:end]
	body = rest[end+len("\n"+delimiter):]
	body = strings.TrimPrefix(body, "\n")
	return meta, body, nil
}

// Get looks an entry up by identifier.
func (c *Catalog) Get(identifier string) (Entry, error) {
	for _, entry := range c.entries {
		if entry.Metadata.Identifier == identifier {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("prompt %q: %w", identifier, ErrPromptNotFound)
}

// Entries returns all catalog entries sorted by title.
func (c *Catalog) Entries() []Entry {
	out := slices.Clone(c.entries)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.Title < out[j].Metadata.Title
	})
	return out
}

// Filter returns the entries matching any of the given categories.
// Entries without categories match everything; nil categories matches all.
func (c *Catalog) Filter(categories []string) []Entry {
	if categories == nil {
		return slices.Clone(c.entries)
	}

	var out []Entry
	for _, entry := range c.entries {
		if len(entry.Metadata.Categories) == 0 {
			out = append(out, entry)
			continue
		}
		for _, want := range categories {
			if slices.Contains(entry.Metadata.Categories, want) {
				out = append(out, entry)
				break
			}
		}
	}
	return out
}

// Render substitutes {variable} placeholders in the identified prompt's
// template. userInput binds to {user_input}; variables supplies the rest.
// Placeholders with no binding are replaced with a neutral note rather than
// failing the render.
func (c *Catalog) Render(identifier, userInput string, variables map[string]string) (string, Entry, error) {
	entry, err := c.Get(identifier)
	if err != nil {
		return "", Entry{}, err
	}

	bindings := make(map[string]string, len(variables)+1)
	for key, value := range variables {
		bindings[key] = value
	}
	bindings["user_input"] = userInput

	rendered := substitute(entry.Template, bindings)
	return rendered, entry, nil
}

// substitute replaces every {name} placeholder. Unknown names get the
// missing-variable placeholder; malformed braces pass through untouched.
func substitute(template string, bindings map[string]string) string {
	var sb strings.Builder
	sb.Grow(len(template))

	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			sb.WriteString(rest)
			return sb.String()
		}

		name := rest[open+1 : open+closing]
		sb.WriteString(rest[:open])
		if isVariableName(name) {
			if value, ok := bindings[name]; ok {
				sb.WriteString(value)
			} else {
				sb.WriteString(missingVariablePlaceholder)
			}
		} else {
			sb.WriteString(rest[open : open+closing+1])
		}
		rest = rest[open+closing+1:]
	}
}

// isVariableName reports whether a brace-delimited token looks like a
// template variable rather than literal braced text.
func isVariableName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
