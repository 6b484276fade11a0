// Package modelclient defines the narrow contract the session engine uses to
// invoke a language model, plus the production Genkit-backed implementation.
//
// A Client turns an ordered list of role-tagged messages into a lazy, finite
// sequence of text fragments. The sequence is pull-driven: the consumer
// controls pacing by requesting the next fragment, and there is no buffering
// beyond one fragment ahead. A mid-stream failure is delivered in-band as the
// final element of the sequence.
package modelclient

import (
	"context"
	"fmt"
	"iter"

	"github.com/parleyhq/parley/internal/transcript"
)

// Client streams model output for a conversation.
type Client interface {
	// Stream sends the messages to the model and returns the response as a
	// sequence of (fragment, error) pairs. On success every pair carries a
	// text fragment and a nil error; a failure terminates the sequence with
	// one ("", err) pair. The sequence is not restartable. Abandoning it
	// mid-way cancels the underlying model call.
	Stream(ctx context.Context, messages []transcript.Message) iter.Seq2[string, error]
}

// Factory builds a live Client for a model configuration. The session
// manager calls it once per session creation.
type Factory interface {
	NewClient(cfg ModelConfig) (Client, error)
}

// ModelConfig selects and tunes a model.
type ModelConfig struct {
	// Provider is the model provider identifier, e.g. "googleai".
	Provider string

	// Name is the provider-local model name, e.g. "gemini-2.5-flash".
	Name string

	// Temperature for sampling. 0 leaves the provider default in place.
	Temperature float64

	// MaxOutputTokens caps the response length. 0 = provider default.
	MaxOutputTokens int
}

// QualifiedName returns the provider-qualified model name ("provider/name")
// understood by the model runtime.
func (c ModelConfig) QualifiedName() string {
	if c.Provider == "" {
		return c.Name
	}
	return fmt.Sprintf("%s/%s", c.Provider, c.Name)
}
