package replay

import (
	"context"
	"fmt"

	"github.com/miradorstack/mirador-chaos/internal/models"
	"github.com/miradorstack/mirador-chaos/internal/utils"
)

// DefaultSimilarityThreshold separates acceptable from degraded answers.
const DefaultSimilarityThreshold = 0.7

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Comparator scores a chaos answer against its baseline.
type Comparator struct {
	embedder  Embedder
	threshold float64
}

// NewComparator builds a comparator. A non-positive threshold uses the default.
func NewComparator(embedder Embedder, threshold float64) *Comparator {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Comparator{embedder: embedder, threshold: threshold}
}

// Compare embeds both texts and returns their cosine similarity.
func (c *Comparator) Compare(ctx context.Context, baseline, chaos string) (models.Comparison, error) {
	a, err := c.embedder.Embed(ctx, baseline)
	if err != nil {
		return models.Comparison{}, fmt.Errorf("embed baseline: %w", err)
	}
	b, err := c.embedder.Embed(ctx, chaos)
	if err != nil {
		return models.Comparison{}, fmt.Errorf("embed chaos answer: %w", err)
	}
	sim := utils.Cosine(a, b)
	return models.Comparison{Similarity: sim, Degraded: sim < c.threshold}, nil
}
