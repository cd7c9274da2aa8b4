package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// OllamaProvider generates embeddings using a local Ollama server.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	dimensions int
}

// NewOllamaProvider creates a provider backed by an Ollama instance.
func NewOllamaProvider(baseURL, model string, dimensions int) *OllamaProvider {
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{},
		dimensions: dimensions,
	}
}

// Dimensions returns the embedding vector size.
func (p *OllamaProvider) Dimensions() int {
	return p.dimensions
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed generates a single embedding.
func (p *OllamaProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	body, err := json.Marshal(ollamaRequest{Model: p.model, Prompt: text})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding: call ollama: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding: read response: %w", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding: parse response: %w", err)
	}
	if parsed.Error != "" {
		return pgvector.Vector{}, fmt.Errorf("embedding: ollama error: %s", parsed.Error)
	}
	if len(parsed.Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("embedding: ollama returned empty embedding")
	}
	return pgvector.NewVector(parsed.Embedding), nil
}

// EmbedBatch generates embeddings sequentially (Ollama has no batch endpoint).
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, 0, len(texts))
	for _, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, v)
	}
	return vecs, nil
}
