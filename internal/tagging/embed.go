package tagging

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultModel is the sentence-embedding model used when none is configured
const DefaultModel = "paraphrase-MiniLM-L6-v2"

// Embedding is a fixed-dimension vector for one topic tag
type Embedding []float64

// Embedder maps texts to embeddings, one per input and in input order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]Embedding, error)
}

// validateEmbeddings checks that every vector is usable for cosine math
func validateEmbeddings(embeddings []Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return fmt.Errorf("embedding 0 is empty")
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(e), dim)
		}
		for _, v := range e {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("embedding %d has a non-finite component", i)
			}
		}
		if floats.Norm(e, 2) == 0 {
			return fmt.Errorf("embedding %d has zero norm", i)
		}
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Both vectors must be non-zero and of equal length.
func CosineSimilarity(a, b Embedding) float64 {
	return floats.Dot(a, b) / (floats.Norm(a, 2) * floats.Norm(b, 2))
}

// unit returns a normalized copy of e
func unit(e Embedding) []float64 {
	u := make([]float64, len(e))
	copy(u, e)
	floats.Scale(1/floats.Norm(u, 2), u)
	return u
}
