package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// HashProvider produces deterministic pseudo-embeddings from token hashes.
// It keeps the retrieval pipeline fully reproducible with no network access:
// identical text always maps to the identical unit vector, and texts sharing
// tokens land near each other. Not a semantic model; dev and test use only.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a deterministic hash-based provider.
func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashProvider{dimensions: dimensions}
}

// Dimensions returns the embedding vector size.
func (p *HashProvider) Dimensions() int {
	return p.dimensions
}

// Embed maps each token onto hashed coordinates and normalizes the result.
func (p *HashProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	vec := make([]float32, p.dimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		// Each token contributes to four coordinates with signed weights.
		for i := 0; i < 4; i++ {
			idx := binary.BigEndian.Uint32(sum[i*8:]) % uint32(p.dimensions)
			sign := float32(1)
			if sum[i*8+4]&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return pgvector.NewVector(vec), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
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
