package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/transcript"
)

// citationsHeading opens the rendered citations block.
const citationsHeading = "**These articles might be relevant:**"

// contextSeparator joins retrieved passage texts in the context block.
const contextSeparator = "\n---"

// Document identifies a knowledge document and its declared context
// namespace.
type Document struct {
	Key     string
	Context string
}

// PassageMetadata describes where a retrieved passage came from and how
// relevant the search judged it.
type PassageMetadata struct {
	Score  float64
	Source string
	Title  string
}

// Passage is one matched chunk of a knowledge document.
type Passage struct {
	PageContent string
	Metadata    PassageMetadata
}

// KnowledgeStore is the similarity-search collaborator, defined here by its
// consumer. The production implementation lives in the knowledge package.
type KnowledgeStore interface {
	GetDocument(ctx context.Context, key string) (Document, error)
	SimilaritySearch(ctx context.Context, query, documentKey, docContext string) ([]Passage, error)
}

// EvalSink records retrieval outcomes for offline evaluation. It is
// instrumentation only: implementations swallow their own failures.
type EvalSink interface {
	Append(query string, contexts []string, scores []float64)
}

// Result is the ephemeral outcome of one retrieval, recomputed per turn and
// never persisted.
type Result struct {
	// Context is the concatenated passage texts, ready for prompt injection.
	Context string

	// CitationsMarkdown is the rendered, deduplicated source list.
	CitationsMarkdown string
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Synthesizer *Synthesizer
	Store       KnowledgeStore

	// Evals is optional; nil disables the evaluation side channel.
	Evals EvalSink

	// Logger for diagnostics. nil = slog.Default().
	Logger log.Logger
}

func (cfg OrchestratorConfig) validate() error {
	if cfg.Synthesizer == nil {
		return errors.New("synthesizer is required")
	}
	if cfg.Store == nil {
		return errors.New("knowledge store is required")
	}
	return nil
}

// Orchestrator composes query synthesis and single-document similarity
// search into the context and citations for one grounded turn.
type Orchestrator struct {
	synth  *Synthesizer
	store  KnowledgeStore
	evals  EvalSink
	logger log.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		synth:  cfg.Synthesizer,
		store:  cfg.Store,
		evals:  cfg.Evals,
		logger: cfg.Logger,
	}, nil
}

// Retrieve synthesizes a query from history and searches the given document.
// It returns nil (no error) when the synthesizer decided no retrieval is
// needed or when no document key was supplied - the caller falls back to an
// unaugmented prompt. Retrieval requires a bound document; there is no
// whole-corpus fallback here.
func (o *Orchestrator) Retrieve(ctx context.Context, history []transcript.Message, message, documentKey string) (*Result, error) {
	query, needed, err := o.synth.Synthesize(ctx, history, message)
	if err != nil {
		return nil, fmt.Errorf("synthesizing retrieval query: %w", err)
	}
	if !needed || documentKey == "" {
		return nil, nil
	}

	doc, err := o.store.GetDocument(ctx, documentKey)
	if err != nil {
		return nil, fmt.Errorf("resolving document %q: %w", documentKey, err)
	}

	passages, err := o.store.SimilaritySearch(ctx, query, doc.Key, doc.Context)
	if err != nil {
		return nil, fmt.Errorf("searching document %q: %w", doc.Key, err)
	}

	if o.evals != nil {
		contexts := make([]string, len(passages))
		scores := make([]float64, len(passages))
		for i, p := range passages {
			contexts[i] = p.PageContent
			scores[i] = p.Metadata.Score
		}
		o.evals.Append(query, contexts, scores)
	}

	return &Result{
		Context:           joinContexts(passages),
		CitationsMarkdown: renderCitations(passages),
	}, nil
}

// joinContexts concatenates all passage texts, duplicates included, in
// search order.
func joinContexts(passages []Passage) string {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.PageContent
	}
	return strings.Join(texts, contextSeparator)
}

// renderCitations renders one markdown bullet per source descriptor,
// deduplicated with first-occurrence order preserved.
func renderCitations(passages []Passage) string {
	seen := make(map[string]struct{}, len(passages))
	var lines []string
	for _, p := range passages {
		if _, dup := seen[p.Metadata.Source]; dup {
			continue
		}
		seen[p.Metadata.Source] = struct{}{}
		lines = append(lines, "- "+citationItem(p.Metadata))
	}
	return citationsHeading + "\n" + strings.Join(lines, "\n") + "\n\n"
}

// citationItem renders one source reference: a markdown link when the
// passage carries a title, the bare source descriptor otherwise.
func citationItem(meta PassageMetadata) string {
	if meta.Title != "" {
		return fmt.Sprintf("[%s](%s)", meta.Title, meta.Source)
	}
	return meta.Source
}
