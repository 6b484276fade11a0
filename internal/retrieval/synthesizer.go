// Package retrieval turns conversation history into grounded context: it
// synthesizes a compact search query from the transcript, runs a
// single-document similarity search against the knowledge store, and renders
// the retrieved passages into a context block plus a citations list.
package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/modelclient"
	"github.com/parleyhq/parley/internal/transcript"
)

// synthesizerInstruction is the fixed system message for the hidden
// query-synthesis call. The model must answer with a single standalone
// search query, or the literal token NONE when no search is needed.
const synthesizerInstruction = `You are a helpful assistant.
Your task is create a single search query to find relevant information, based on the conversation and the current user message.
Rules:
- Search query should find relevant information for the current user message only.
- Include all important key words and phrases in query that would help to search for relevant information.
- If the current user message does not need to search for additional information, return NONE.
- Only return the single standalone search query or NONE. No explanations needed.`

// excerptThreshold is the transcript length above which only an excerpt of
// the conversation is sent to the synthesis call.
const excerptThreshold = 5

// Synthesizer decides, per turn, whether the new user message needs
// grounding in retrieved documents, and if so produces a search query. The
// decision costs one hidden model call that is never shown to the user.
type Synthesizer struct {
	client modelclient.Client
	logger log.Logger
}

// NewSynthesizer creates a Synthesizer on the given model client.
// A nil logger installs slog.Default().
func NewSynthesizer(client modelclient.Client, logger log.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{client: client, logger: logger}
}

// Synthesize produces a search query for message given the conversation so
// far. needed is false when the model judged that no retrieval is required.
//
// A transcript holding only the system message short-circuits: the new
// message is the query verbatim and no model call is made. Otherwise the
// synthesis call blocks until the model's full response is consumed; this is
// the one hidden round trip of a grounded turn.
func (s *Synthesizer) Synthesize(ctx context.Context, history []transcript.Message, message string) (query string, needed bool, err error) {
	if len(history) <= 1 {
		return message, true, nil
	}

	prompt := []transcript.Message{
		{Role: transcript.RoleSystem, Content: synthesizerInstruction},
		{Role: transcript.RoleHuman, Content: "Conversation:\n" + conversationExcerpt(history) +
			"\n\nCurrent user message: " + message + " \n Query:"},
	}

	var sb strings.Builder
	for fragment, streamErr := range s.client.Stream(ctx, prompt) {
		if streamErr != nil {
			return "", false, streamErr
		}
		sb.WriteString(fragment)
	}

	raw := sb.String()
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "none"):
		s.logger.Debug("query synthesis decided no retrieval is needed")
		return "", false, nil
	case strings.Contains(lower, "query:"):
		idx := strings.Index(lower, "query:")
		query = strings.TrimSpace(raw[idx+len("query:"):])
	default:
		query = strings.TrimSpace(raw)
	}

	s.logger.Debug("synthesized retrieval query", "query", query)
	return query, true, nil
}

// conversationExcerpt selects the messages sent to the synthesis call: the
// full conversation while it is short, otherwise the first two messages
// (system + first human turn) plus the last four.
func conversationExcerpt(history []transcript.Message) string {
	selected := history
	if len(history) > excerptThreshold {
		selected = make([]transcript.Message, 0, 6)
		selected = append(selected, history[:2]...)
		selected = append(selected, history[len(history)-4:]...)
	}

	contents := make([]string, len(selected))
	for i, m := range selected {
		contents[i] = m.Content
	}
	return strings.Join(contents, "\n")
}
