package modelclient

import (
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/parleyhq/parley/internal/transcript"
)

func TestModelConfigQualifiedName(t *testing.T) {
	tests := []struct {
		name string
		cfg  ModelConfig
		want string
	}{
		{
			name: "provider and name",
			cfg:  ModelConfig{Provider: "googleai", Name: "gemini-2.5-flash"},
			want: "googleai/gemini-2.5-flash",
		},
		{
			name: "no provider",
			cfg:  ModelConfig{Name: "gemini-2.5-flash"},
			want: "gemini-2.5-flash",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.QualifiedName(); got != tt.want {
				t.Errorf("QualifiedName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToGenkitMessages(t *testing.T) {
	in := []transcript.Message{
		{Role: transcript.RoleSystem, Content: "sys"},
		{Role: transcript.RoleHuman, Content: "hi"},
		{Role: transcript.RoleAssistant, Content: "hello"},
		{Role: "bogus", Content: "dropped"},
	}

	out := toGenkitMessages(in)
	if len(out) != 3 {
		t.Fatalf("messages = %d, want 3: unknown roles are dropped", len(out))
	}

	wantRoles := []ai.Role{ai.RoleSystem, ai.RoleUser, ai.RoleModel}
	wantTexts := []string{"sys", "hi", "hello"}
	for i, msg := range out {
		if msg.Role != wantRoles[i] {
			t.Errorf("message[%d].Role = %q, want %q", i, msg.Role, wantRoles[i])
		}
		if got := msg.Content[0].Text; got != wantTexts[i] {
			t.Errorf("message[%d] text = %q, want %q", i, got, wantTexts[i])
		}
	}
}
