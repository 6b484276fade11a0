package modelclient

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/transcript"
)

// Default proactive rate limit for model calls: 10 requests/sec sustained,
// burst of 30.
const (
	defaultRateLimit = 10
	defaultRateBurst = 30
)

// GenkitFactory builds Genkit-backed clients. All clients produced by one
// factory share its rate limiter, so the limit applies across sessions.
type GenkitFactory struct {
	g       *genkit.Genkit
	limiter *rate.Limiter
	logger  log.Logger
}

// NewGenkitFactory creates a factory on an initialized Genkit instance.
// A nil limiter installs the default (10 req/s, burst 30); a nil logger
// installs slog.Default().
func NewGenkitFactory(g *genkit.Genkit, limiter *rate.Limiter, logger log.Logger) *GenkitFactory {
	if limiter == nil {
		limiter = rate.NewLimiter(defaultRateLimit, defaultRateBurst)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenkitFactory{g: g, limiter: limiter, logger: logger}
}

// NewClient returns a Client bound to the given model configuration.
func (f *GenkitFactory) NewClient(cfg ModelConfig) (Client, error) {
	if cfg.Name == "" {
		return nil, errors.New("model name is required")
	}
	return &genkitClient{
		g:       f.g,
		cfg:     cfg,
		limiter: f.limiter,
		logger:  f.logger.With("model", cfg.QualifiedName()),
	}, nil
}

// genkitClient implements Client on genkit.Generate with a streaming
// callback, bridged to a pull-driven iterator.
type genkitClient struct {
	g       *genkit.Genkit
	cfg     ModelConfig
	limiter *rate.Limiter
	logger  log.Logger
}

// streamItem carries one callback delivery across the goroutine boundary.
type streamItem struct {
	text string
	err  error
}

// Stream implements Client. The generation runs in a goroutine; fragments
// cross an unbuffered channel, so the model call advances only as fast as
// the consumer pulls. Abandoning the iterator cancels the generation.
func (c *genkitClient) Stream(ctx context.Context, messages []transcript.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := c.limiter.Wait(ctx); err != nil {
			yield("", err)
			return
		}

		genCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		ch := make(chan streamItem)
		go func() {
			defer close(ch)
			_, err := genkit.Generate(genCtx, c.g, c.generateOptions(genCtx, messages, ch)...)
			if err != nil && !errors.Is(err, context.Canceled) {
				select {
				case ch <- streamItem{err: err}:
				case <-genCtx.Done():
				}
			}
		}()

		for item := range ch {
			if item.err != nil {
				c.logger.Debug("model stream failed", "error", item.err)
				yield("", item.err)
				return
			}
			if !yield(item.text, nil) {
				cancel()
				for range ch {
					// Drain until the generation goroutine observes the
					// cancellation and closes the channel.
				}
				return
			}
		}
	}
}

func (c *genkitClient) generateOptions(ctx context.Context, messages []transcript.Message, ch chan<- streamItem) []ai.GenerateOption {
	opts := []ai.GenerateOption{
		ai.WithModelName(c.cfg.QualifiedName()),
		ai.WithMessages(toGenkitMessages(messages)...),
		ai.WithStreaming(func(cbCtx context.Context, chunk *ai.ModelResponseChunk) error {
			text := chunk.Text()
			if text == "" {
				return nil
			}
			select {
			case ch <- streamItem{text: text}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-cbCtx.Done():
				return cbCtx.Err()
			}
		}),
	}

	if c.cfg.Temperature != 0 || c.cfg.MaxOutputTokens != 0 {
		genCfg := &genai.GenerateContentConfig{}
		if c.cfg.Temperature != 0 {
			genCfg.Temperature = genai.Ptr(float32(c.cfg.Temperature))
		}
		if c.cfg.MaxOutputTokens != 0 {
			genCfg.MaxOutputTokens = int32(c.cfg.MaxOutputTokens)
		}
		opts = append(opts, ai.WithConfig(genCfg))
	}

	return opts
}

// toGenkitMessages converts transcript messages to Genkit's message type.
// The transcript's human/assistant roles map to Genkit's user/model roles.
func toGenkitMessages(messages []transcript.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case transcript.RoleSystem:
			out = append(out, ai.NewSystemTextMessage(m.Content))
		case transcript.RoleHuman:
			out = append(out, ai.NewUserTextMessage(m.Content))
		case transcript.RoleAssistant:
			out = append(out, ai.NewModelTextMessage(m.Content))
		}
	}
	return out
}
