package storage

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kansa/internal/model"
)

// InsertPolicyDocument upserts a policy document with its embedding.
func (db *DB) InsertPolicyDocument(ctx context.Context, doc model.PolicyDocument, embedding pgvector.Vector) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO policy_documents (id, title, content, category, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			category = EXCLUDED.category,
			embedding = EXCLUDED.embedding`,
		doc.ID, doc.Title, doc.Content, doc.Category, embedding, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert policy document: %w", err)
	}
	return nil
}

// SearchPolicies runs cosine similarity search over policy embeddings and
// returns ranked snippets.
func (db *DB) SearchPolicies(ctx context.Context, query pgvector.Vector, limit int) ([]model.PolicySnippet, error) {
	if limit <= 0 {
		limit = 3
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, title, left(content, 300), category, 1 - (embedding <=> $1) AS similarity
		 FROM policy_documents
		 ORDER BY embedding <=> $1
		 LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search policies: %w", err)
	}
	defer rows.Close()

	var snippets []model.PolicySnippet
	for rows.Next() {
		var s model.PolicySnippet
		if err := rows.Scan(&s.DocumentID, &s.Title, &s.Excerpt, &s.Category, &s.Similarity); err != nil {
			return nil, fmt.Errorf("storage: scan policy snippet: %w", err)
		}
		snippets = append(snippets, s)
	}
	return snippets, rows.Err()
}
