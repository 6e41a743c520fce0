package tagging

import (
	"fmt"
)

// SelectRepresentative picks the member with the highest mean cosine
// similarity across its full similarity row, self-similarity included.
// Ties keep the earliest member. A single member is returned as is.
func SelectRepresentative(members []string, embeddings map[string]Embedding) (string, error) {
	switch len(members) {
	case 0:
		return "", fmt.Errorf("%w: empty cluster", ErrClustering)
	case 1:
		return members[0], nil
	}

	vectors := make([]Embedding, len(members))
	for i, m := range members {
		e, ok := embeddings[m]
		if !ok {
			return "", fmt.Errorf("%w: no embedding for cluster member %q", ErrClustering, m)
		}
		vectors[i] = e
	}
	if err := validateEmbeddings(vectors); err != nil {
		return "", fmt.Errorf("%w: %v", ErrClustering, err)
	}

	bestIdx := 0
	bestMean := -2.0
	for i := range vectors {
		sum := 0.0
		for j := range vectors {
			if i == j {
				sum += 1.0
				continue
			}
			sum += CosineSimilarity(vectors[i], vectors[j])
		}
		mean := sum / float64(len(vectors))
		if mean > bestMean {
			bestMean = mean
			bestIdx = i
		}
	}
	return members[bestIdx], nil
}
