package knowledge

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// DocumentRow is a document record as stored in the database.
// A document is a named knowledge base that passages are indexed under.
type DocumentRow struct {
	Key         string
	Title       string
	Description string
	Context     string
	CreatedAt   time.Time
}

// PassageRow is an indexed chunk of a document together with its
// similarity score for the query it was retrieved for.
type PassageRow struct {
	Content string
	Source  string
	Title   string
	Score   float64
}

// UpsertDocumentParams carries the fields for inserting or updating a
// document record.
type UpsertDocumentParams struct {
	Key         string
	Title       string
	Description string
	Context     string
}

// InsertPassageParams carries the fields for indexing one passage under a
// document. Embedding is the pgvector-encoded embedding of Content.
type InsertPassageParams struct {
	DocumentKey string
	Content     string
	Source      string
	Title       string
	Embedding   *pgvector.Vector
}

// SearchPassagesParams scopes a vector search to one document.
type SearchPassagesParams struct {
	DocumentKey    string
	QueryEmbedding *pgvector.Vector
	ResultLimit    int32
}

// SearchOption configures similarity search behavior using the functional
// options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int32
	timeout time.Duration
}

// WithTopK sets the maximum number of passages to return. Default is 5.
func WithTopK(k int32) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithTimeout bounds the embedding plus vector search round trip.
// Default is 10 seconds.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		c.timeout = d
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    5,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
