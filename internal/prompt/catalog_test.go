package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parleyhq/parley/internal/log"
)

func writePromptDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}

const brainstormPrompt = `---
identifier: guided-brainstorming
title: Guided brainstorming
system: You are a creative sparring partner
categories:
  - ideation
help_prompt_description: Structured idea generation
help_sample_input: A topic to explore
---
Help me brainstorm about {user_input}, keeping {constraints} in mind.
`

func TestLoadParsesFrontMatter(t *testing.T) {
	dir := writePromptDir(t, map[string]string{
		"brainstorm.md": brainstormPrompt,
		"README.md":     "catalog docs, not a prompt",
		"notes.txt":     "not a prompt either",
	})

	catalog, err := Load(dir, log.NewNop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := len(catalog.Entries()); got != 1 {
		t.Fatalf("entries = %d, want 1: README and non-md files are skipped", got)
	}

	entry, err := catalog.Get("guided-brainstorming")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	meta := entry.Metadata
	if meta.Title != "Guided brainstorming" {
		t.Errorf("Title = %q", meta.Title)
	}
	if meta.System != "You are a creative sparring partner" {
		t.Errorf("System = %q", meta.System)
	}
	if meta.Description != "Structured idea generation" {
		t.Errorf("Description = %q", meta.Description)
	}
	if meta.SampleInput != "A topic to explore" {
		t.Errorf("SampleInput = %q", meta.SampleInput)
	}
	wantTemplate := "Help me brainstorm about {user_input}, keeping {constraints} in mind.\n"
	if entry.Template != wantTemplate {
		t.Errorf("Template = %q, want %q", entry.Template, wantTemplate)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := writePromptDir(t, map[string]string{
		"minimal.md": "---\nidentifier: minimal\n---\nbody\n",
	})

	catalog, err := Load(dir, log.NewNop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	entry, err := catalog.Get("minimal")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Metadata.Title != "Unnamed use case" {
		t.Errorf("Title = %q, want the default", entry.Metadata.Title)
	}
	if entry.Metadata.System != "You are a useful assistant" {
		t.Errorf("System = %q, want the default", entry.Metadata.System)
	}
}

func TestLoadWithoutFrontMatter(t *testing.T) {
	dir := writePromptDir(t, map[string]string{
		"plain.md": "just a template body with {user_input}\n",
	})

	catalog, err := Load(dir, log.NewNop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	entries := catalog.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Template != "just a template body with {user_input}\n" {
		t.Errorf("Template = %q", entries[0].Template)
	}
}

func TestLoadUnterminatedFrontMatter(t *testing.T) {
	dir := writePromptDir(t, map[string]string{
		"broken.md": "---\nidentifier: broken\nno closing delimiter",
	})

	if _, err := Load(dir, log.NewNop()); err == nil {
		t.Error("Load() error = nil, want a parse failure")
	}
}

func TestGetUnknownIdentifier(t *testing.T) {
	catalog, err := Load(writePromptDir(t, nil), log.NewNop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := catalog.Get("nope"); !errors.Is(err, ErrPromptNotFound) {
		t.Errorf("Get() error = %v, want ErrPromptNotFound", err)
	}
}

func TestFilter(t *testing.T) {
	dir := writePromptDir(t, map[string]string{
		"a.md": "---\nidentifier: a\ncategories: [ideation]\n---\nbody",
		"b.md": "---\nidentifier: b\ncategories: [analysis]\n---\nbody",
		"c.md": "---\nidentifier: c\n---\nbody",
	})
	catalog, err := Load(dir, log.NewNop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name       string
		categories []string
		wantIDs    []string
	}{
		{name: "nil matches all", categories: nil, wantIDs: []string{"a", "b", "c"}},
		{name: "single category", categories: []string{"ideation"}, wantIDs: []string{"a", "c"}},
		{name: "no match keeps uncategorized", categories: []string{"other"}, wantIDs: []string{"c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := catalog.Filter(tt.categories)
			var ids []string
			for _, e := range got {
				ids = append(ids, e.Metadata.Identifier)
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("ids = %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
					break
				}
			}
		})
	}
}

func TestRender(t *testing.T) {
	dir := writePromptDir(t, map[string]string{
		"brainstorm.md": brainstormPrompt,
	})
	catalog, err := Load(dir, log.NewNop())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	t.Run("binds user input and variables", func(t *testing.T) {
		rendered, entry, err := catalog.Render("guided-brainstorming", "team rituals", map[string]string{
			"constraints": "a remote team",
		})
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		want := "Help me brainstorm about team rituals, keeping a remote team in mind.\n"
		if rendered != want {
			t.Errorf("rendered = %q, want %q", rendered, want)
		}
		if entry.Metadata.Identifier != "guided-brainstorming" {
			t.Errorf("entry identifier = %q", entry.Metadata.Identifier)
		}
	})

	t.Run("missing variable gets the placeholder", func(t *testing.T) {
		rendered, _, err := catalog.Render("guided-brainstorming", "team rituals", nil)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		want := "Help me brainstorm about team rituals, keeping None provided, please try to help without this information. in mind.\n"
		if rendered != want {
			t.Errorf("rendered = %q, want %q", rendered, want)
		}
	})

	t.Run("unknown identifier", func(t *testing.T) {
		if _, _, err := catalog.Render("nope", "x", nil); !errors.Is(err, ErrPromptNotFound) {
			t.Errorf("Render() error = %v, want ErrPromptNotFound", err)
		}
	})
}

func TestSubstituteMalformedBraces(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "braced json passes through",
			template: `respond with {"key": "value"}`,
			want:     `respond with {"key": "value"}`,
		},
		{
			name:     "empty braces pass through",
			template: "a {} b",
			want:     "a {} b",
		},
		{
			name:     "unclosed brace passes through",
			template: "a {dangling",
			want:     "a {dangling",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substitute(tt.template, map[string]string{}); got != tt.want {
				t.Errorf("substitute() = %q, want %q", got, tt.want)
			}
		})
	}
}
