// Package chat implements the streaming chat session variants and the
// session manager facade.
//
// Two mutually exclusive output protocols share one incremental-generation
// primitive: StreamingChat emits raw text fragments (optionally paired with a
// citations block for document-grounded turns), JSONChat wraps the same
// fragments in a line-oriented event framing. Both recover from mid-stream
// model failures by emitting a single "[ERROR]: ..." fragment and stopping;
// the session stays usable for subsequent turns.
package chat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/modelclient"
	"github.com/parleyhq/parley/internal/retrieval"
	"github.com/parleyhq/parley/internal/transcript"
)

const (
	// DefaultSystemMessage seeds a session's transcript when the caller
	// supplies no system message.
	DefaultSystemMessage = "You are a helpful assistant"

	// errorPrefix marks the single synthetic fragment emitted when a turn
	// fails mid-stream. It travels on the same channel as normal output so
	// clients need not special-case transport errors.
	errorPrefix = "[ERROR]: "

	// fallbackErrorMessage substitutes for failures that carry no message.
	fallbackErrorMessage = "Error while the model was processing the input"

	// defaultGroundedRequest is used when a document-grounded turn is
	// started without an explicit user message.
	defaultGroundedRequest = "Based on our conversation so far, what do you think is relevant to me with the CONTEXT information I gathered?"
)

// errorFragment renders a failure as the in-band error marker.
func errorFragment(err error) string {
	msg := ""
	if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	if msg == "" {
		msg = fallbackErrorMessage
	}
	return errorPrefix + msg
}

// Retriever supplies context and citations for a document-grounded turn.
// Implemented by retrieval.Orchestrator.
type Retriever interface {
	Retrieve(ctx context.Context, history []transcript.Message, message, documentKey string) (*retrieval.Result, error)
}

// Recorder receives fire-and-forget analytics events.
type Recorder interface {
	Record(description string, fields map[string]any)
}

// StreamingChatConfig configures a StreamingChat session.
type StreamingChatConfig struct {
	// Client is the model client handle for this session. Required.
	Client modelclient.Client

	// Retriever enables document-grounded turns. nil = grounding disabled.
	Retriever Retriever

	// SystemMessage seeds the transcript. "" = DefaultSystemMessage.
	SystemMessage string

	// Analytics receives a turn-start event per Run. nil = disabled.
	Analytics Recorder

	// Logger for diagnostics. nil = slog.Default().
	Logger log.Logger
}

// StreamingChat is the raw streaming session variant: Run yields plain text
// fragments as the model produces them.
//
// A StreamingChat owns its transcript exclusively. Turns on one session must
// not run concurrently; independent sessions may.
type StreamingChat struct {
	client     modelclient.Client
	retriever  Retriever
	transcript *transcript.Transcript
	analytics  Recorder
	logger     log.Logger
}

// NewStreamingChat creates a raw streaming session with a fresh transcript.
func NewStreamingChat(cfg StreamingChatConfig) *StreamingChat {
	if cfg.SystemMessage == "" {
		cfg.SystemMessage = DefaultSystemMessage
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StreamingChat{
		client:     cfg.Client,
		retriever:  cfg.Retriever,
		transcript: transcript.New(cfg.SystemMessage),
		analytics:  cfg.Analytics,
		logger:     cfg.Logger,
	}
}

// Transcript exposes the session's message history.
func (c *StreamingChat) Transcript() *transcript.Transcript {
	return c.transcript
}

// TranscriptText implements session.Chat.
func (c *StreamingChat) TranscriptText() string {
	return c.transcript.Text()
}

// Run executes one turn: message is appended to the transcript and sent to
// the model with the full history, and each response fragment is yielded to
// the caller as soon as the model produces it. The caller controls pacing;
// nothing is buffered beyond one fragment ahead.
//
// displayOverride, when non-empty, replaces the appended human message's
// content once streaming has begun. It is used by grounded turns so that the
// model sees the augmented prompt while the transcript retains the user's
// own words.
//
// On failure the sequence ends with exactly one "[ERROR]: ..." fragment;
// assistant text accumulated before the failure is committed to the
// transcript. Abandoning the iterator halts generation without committing
// the in-progress response.
func (c *StreamingChat) Run(ctx context.Context, message, displayOverride string) iter.Seq[string] {
	return func(yield func(string) bool) {
		c.recordTurn("StreamingChat")
		c.transcript.AppendHuman(message)
		acc := c.transcript.BeginAssistant()

		first := true
		for fragment, err := range c.client.Stream(ctx, c.transcript.Messages()) {
			if err != nil {
				acc.Commit()
				c.logger.Error("streaming turn failed", "error", err)
				yield(errorFragment(err))
				return
			}
			if first {
				first = false
				if displayOverride != "" {
					c.transcript.AmendLastHuman(displayOverride)
				}
			}
			acc.Write(fragment)
			if !yield(fragment) {
				return
			}
		}
		acc.Commit()
	}
}

// RunWithDocument executes one document-grounded turn: it synthesizes a
// search query from the conversation, retrieves context from documentKey,
// augments the prompt when context was found, and streams the answer. Every
// yielded fragment is paired with the turn's constant citations block, so
// clients receive the sources with each chunk.
func (c *StreamingChat) RunWithDocument(ctx context.Context, documentKey, message string) iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		var result *retrieval.Result
		if c.retriever != nil {
			var err error
			result, err = c.retriever.Retrieve(ctx, c.transcript.Messages(), message, documentKey)
			if err != nil {
				c.logger.Error("retrieval failed", "document", documentKey, "error", err)
				yield(errorFragment(err), "")
				return
			}
		}

		userRequest := message
		if userRequest == "" {
			userRequest = defaultGroundedRequest
		}

		prompt := userRequest
		citations := ""
		if result != nil {
			citations = result.CitationsMarkdown
			if result.Context != "" {
				prompt = augmentPrompt(userRequest, result.Context)
			}
		}

		for fragment := range c.Run(ctx, prompt, userRequest) {
			if !yield(fragment, citations) {
				return
			}
		}
	}
}

// augmentPrompt wraps the user request with retrieved context and the
// instruction to stay inside it.
func augmentPrompt(userRequest, contextBlock string) string {
	return fmt.Sprintf(`%s
---- Here is some additional CONTEXT that might be relevant to this:
%s
-------
Do not provide any advice that is outside of the CONTEXT I provided.`, userRequest, contextBlock)
}

// recordTurn emits the per-turn analytics event.
func (c *StreamingChat) recordTurn(chatType string) {
	if c.analytics == nil {
		return
	}
	c.analytics.Record("Sending message", map[string]any{
		"chat_type":        chatType,
		"numberOfMessages": c.transcript.Len(),
	})
}