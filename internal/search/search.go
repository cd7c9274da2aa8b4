// Package search provides vector similarity search over policy documents.
//
// Two backends implement the Searcher interface: StoreSearcher delegates to
// the relational store's pgvector (or Lite cosine) search, and QdrantIndex
// uses a dedicated Qdrant collection. The retrieval capability only sees the
// interface.
package search

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kansa/internal/model"
)

// Searcher finds policy snippets similar to a query embedding.
type Searcher interface {
	// Index makes the documents searchable. Vectors are positional with docs.
	Index(ctx context.Context, docs []model.PolicyDocument, vectors []pgvector.Vector) error

	// Search returns up to limit snippets ranked by similarity descending.
	Search(ctx context.Context, query pgvector.Vector, limit int) ([]model.PolicySnippet, error)
}

// PolicyStore is the slice of the storage layer the StoreSearcher needs.
type PolicyStore interface {
	InsertPolicyDocument(ctx context.Context, doc model.PolicyDocument, embedding pgvector.Vector) error
	SearchPolicies(ctx context.Context, query pgvector.Vector, limit int) ([]model.PolicySnippet, error)
}

// StoreSearcher implements Searcher on top of the relational store.
type StoreSearcher struct {
	store PolicyStore
}

// NewStoreSearcher creates a Searcher backed by the given store.
func NewStoreSearcher(store PolicyStore) *StoreSearcher {
	return &StoreSearcher{store: store}
}

// Index inserts the documents with their embeddings.
func (s *StoreSearcher) Index(ctx context.Context, docs []model.PolicyDocument, vectors []pgvector.Vector) error {
	for i, doc := range docs {
		if err := s.store.InsertPolicyDocument(ctx, doc, vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

// Search delegates to the store's vector search.
func (s *StoreSearcher) Search(ctx context.Context, query pgvector.Vector, limit int) ([]model.PolicySnippet, error) {
	return s.store.SearchPolicies(ctx, query, limit)
}
