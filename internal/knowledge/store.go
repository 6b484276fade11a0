// Package knowledge manages grounding documents and their indexed passages
// with vector search, backed by PostgreSQL + pgvector.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/parleyhq/parley/internal/retrieval"
)

// ErrDocumentNotFound indicates the requested document key is not registered.
var ErrDocumentNotFound = errors.New("document not found")

// Querier defines the database operations the store needs.
// Following Go best practices: interfaces are defined by the consumer, not
// the provider, so Store depends on abstraction and tests can substitute a
// mock.
type Querier interface {
	// GetDocument fetches one document record by key.
	GetDocument(ctx context.Context, key string) (DocumentRow, error)

	// SearchPassages performs a vector search scoped to one document.
	SearchPassages(ctx context.Context, arg SearchPassagesParams) ([]PassageRow, error)

	// UpsertDocument inserts or updates a document record.
	UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error

	// InsertPassage indexes one passage under a document.
	InsertPassage(ctx context.Context, arg InsertPassageParams) error

	// DeleteDocument removes a document and its passages.
	DeleteDocument(ctx context.Context, key string) error

	// CountPassages counts indexed passages for a document.
	CountPassages(ctx context.Context, documentKey string) (int64, error)
}

// ErrNoRows is returned by Querier implementations when a lookup matches
// nothing. It decouples Store from the concrete driver's sentinel.
var ErrNoRows = errors.New("no rows in result set")

// Store manages grounding documents with vector search capabilities.
// It handles embedding generation and similarity search over indexed
// passages.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
	search   *searchConfig
}

// New creates a new Store.
//
// Parameters:
//   - querier: database querier implementing Querier
//   - embedder: AI embedder for generating vector embeddings
//   - logger: logger for debugging (nil = use default)
//   - opts: search tuning, e.g. WithTopK(10)
func New(querier Querier, embedder ai.Embedder, logger *slog.Logger, opts ...SearchOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger,
		search:   buildSearchConfig(opts),
	}
}

var _ retrieval.KnowledgeStore = (*Store)(nil)

// GetDocument resolves a document key to its retrieval metadata.
func (s *Store) GetDocument(ctx context.Context, key string) (retrieval.Document, error) {
	row, err := s.queries.GetDocument(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return retrieval.Document{}, fmt.Errorf("document %q: %w", key, ErrDocumentNotFound)
		}
		return retrieval.Document{}, fmt.Errorf("fetching document %q: %w", key, err)
	}
	return retrieval.Document{
		Key:     row.Key,
		Context: row.Context,
	}, nil
}

// SimilaritySearch embeds the query and returns the passages of documentKey
// most similar to it, ordered by descending score.
//
// docContext is accepted for interface compatibility and currently unused;
// scoping happens on documentKey alone.
func (s *Store) SimilaritySearch(ctx context.Context, query, documentKey, docContext string) ([]retrieval.Passage, error) {
	// Bound the embedding plus vector search round trip so a slow backend
	// cannot stall the chat turn indefinitely.
	queryCtx, cancel := context.WithTimeout(ctx, s.search.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.queries.SearchPassages(queryCtx, SearchPassagesParams{
		DocumentKey:    documentKey,
		QueryEmbedding: embedding,
		ResultLimit:    s.search.topK,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("similarity search timeout: %w", err)
		}
		return nil, fmt.Errorf("similarity search in %q: %w", documentKey, err)
	}

	passages := make([]retrieval.Passage, 0, len(rows))
	for _, row := range rows {
		passages = append(passages, retrieval.Passage{
			PageContent: row.Content,
			Metadata: retrieval.PassageMetadata{
				Score:  row.Score,
				Source: row.Source,
				Title:  row.Title,
			},
		})
	}

	s.logger.Debug("similarity search completed",
		"document_key", documentKey,
		"passages", len(passages))
	return passages, nil
}

// AddDocument registers or updates a document record.
func (s *Store) AddDocument(ctx context.Context, arg UpsertDocumentParams) error {
	if arg.Key == "" {
		return errors.New("document key must not be empty")
	}
	if err := s.queries.UpsertDocument(ctx, arg); err != nil {
		return fmt.Errorf("upserting document %q: %w", arg.Key, err)
	}
	s.logger.Debug("upserted document", "key", arg.Key)
	return nil
}

// AddPassage embeds content and indexes it as a passage of documentKey.
// The document must already be registered.
func (s *Store) AddPassage(ctx context.Context, documentKey, content, source, title string) error {
	if _, err := s.queries.GetDocument(ctx, documentKey); err != nil {
		if errors.Is(err, ErrNoRows) {
			return fmt.Errorf("document %q: %w", documentKey, ErrDocumentNotFound)
		}
		return fmt.Errorf("fetching document %q: %w", documentKey, err)
	}

	embedding, err := s.embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding passage: %w", err)
	}

	err = s.queries.InsertPassage(ctx, InsertPassageParams{
		DocumentKey: documentKey,
		Content:     content,
		Source:      source,
		Title:       title,
		Embedding:   embedding,
	})
	if err != nil {
		return fmt.Errorf("indexing passage under %q: %w", documentKey, err)
	}

	s.logger.Debug("indexed passage",
		"document_key", documentKey,
		"content_length", len(content))
	return nil
}

// DeleteDocument removes a document and all of its passages.
func (s *Store) DeleteDocument(ctx context.Context, key string) error {
	if err := s.queries.DeleteDocument(ctx, key); err != nil {
		return fmt.Errorf("deleting document %q: %w", key, err)
	}
	s.logger.Debug("deleted document", "key", key)
	return nil
}

// CountPassages returns the number of indexed passages for a document.
func (s *Store) CountPassages(ctx context.Context, documentKey string) (int, error) {
	count, err := s.queries.CountPassages(ctx, documentKey)
	if err != nil {
		return 0, fmt.Errorf("counting passages of %q: %w", documentKey, err)
	}
	return int(count), nil
}

// embed generates the vector embedding for one piece of text.
func (s *Store) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			ai.DocumentFromText(text, nil),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	vec := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &vec, nil
}
