package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/modelclient"
	"github.com/parleyhq/parley/internal/transcript"
)

// doneFrame terminates an SSE-standard stream.
const doneFrame = "data: [DONE]\n\n"

// JSONChatConfig configures a JSONChat session.
type JSONChatConfig struct {
	// Client is the model client handle for this session. Required.
	Client modelclient.Client

	// SystemMessage seeds the transcript. "" = DefaultSystemMessage.
	SystemMessage string

	// SSEStandard selects the server-sent-event framing: each chunk as
	// `data: { "data": <json> }` terminated by a blank line, with a final
	// `data: [DONE]` sentinel. When false, the bare framing is used: one
	// JSON object per chunk and no sentinel.
	SSEStandard bool

	// Analytics receives a turn-start event per Run. nil = disabled.
	Analytics Recorder

	// Logger for diagnostics. nil = slog.Default().
	Logger log.Logger
}

// JSONChat is the framed event-stream session variant: Run yields each model
// fragment wrapped as a JSON object with a single "data" field, framed for
// transport. The frame bytes are part of the external protocol and must not
// change.
type JSONChat struct {
	client      modelclient.Client
	transcript  *transcript.Transcript
	sseStandard bool
	analytics   Recorder
	logger      log.Logger
}

// NewJSONChat creates a framed session with a fresh transcript.
func NewJSONChat(cfg JSONChatConfig) *JSONChat {
	if cfg.SystemMessage == "" {
		cfg.SystemMessage = DefaultSystemMessage
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &JSONChat{
		client:      cfg.Client,
		transcript:  transcript.New(cfg.SystemMessage),
		sseStandard: cfg.SSEStandard,
		analytics:   cfg.Analytics,
		logger:      cfg.Logger,
	}
}

// Transcript exposes the session's message history.
func (c *JSONChat) Transcript() *transcript.Transcript {
	return c.transcript
}

// TranscriptText implements session.Chat.
func (c *JSONChat) TranscriptText() string {
	return c.transcript.Text()
}

// Run executes one framed turn. Every model fragment is appended to the
// in-progress assistant response and yielded as one complete frame. On
// failure a single unframed "[ERROR]: ..." fragment ends the sequence,
// matching the raw variant's error format.
func (c *JSONChat) Run(ctx context.Context, message string) iter.Seq[string] {
	return func(yield func(string) bool) {
		c.recordTurn()
		c.transcript.AppendHuman(message)
		acc := c.transcript.BeginAssistant()

		for fragment, err := range c.client.Stream(ctx, c.transcript.Messages()) {
			if err != nil {
				acc.Commit()
				c.logger.Error("framed turn failed", "error", err)
				yield(errorFragment(err))
				return
			}
			acc.Write(fragment)
			if !yield(c.frame(fragment)) {
				return
			}
		}
		acc.Commit()

		if c.sseStandard {
			yield(doneFrame)
		}
	}
}

// frame wraps one text fragment in the configured transport framing.
func (c *JSONChat) frame(fragment string) string {
	encoded, err := json.Marshal(fragment)
	if err != nil {
		// Marshalling a string cannot fail; keep the stream alive anyway.
		encoded = []byte(`""`)
	}

	if c.sseStandard {
		return fmt.Sprintf("data: { \"data\": %s }\n\n", encoded)
	}
	// The space after the colon is part of the bare frame format.
	return fmt.Sprintf("{\"data\": %s}\n\n", encoded)
}

// recordTurn emits the per-turn analytics event.
func (c *JSONChat) recordTurn() {
	if c.analytics == nil {
		return
	}
	c.analytics.Record("Sending message", map[string]any{
		"chat_type":        "JSONChat",
		"numberOfMessages": c.transcript.Len(),
	})
}
