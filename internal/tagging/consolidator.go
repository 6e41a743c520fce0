package tagging

import (
	"context"
	"fmt"
	"sort"
)

// ClusterResult is one topic cluster and the member chosen to stand for it
type ClusterResult struct {
	Representative string   `json:"representative"`
	Members        []string `json:"members"`
}

// Result is the full outcome of a consolidation run
type Result struct {
	Tags     []string          `json:"tags"`
	Names    []string          `json:"names"`
	Clusters []ClusterResult   `json:"clusters"`
	Mapping  map[string]string `json:"mapping"`
}

// Consolidator turns noisy candidate tags into a small, sorted, duplicate-free
// tag set. It keeps no state between runs.
type Consolidator struct {
	detector NameDetector
	embedder Embedder
}

// NewConsolidator creates a consolidator backed by the given detector and embedder
func NewConsolidator(detector NameDetector, embedder Embedder) *Consolidator {
	return &Consolidator{
		detector: detector,
		embedder: embedder,
	}
}

// Consolidate returns the final sorted tag set for rawTags
func (c *Consolidator) Consolidate(ctx context.Context, rawTags []string, distanceThreshold float64) ([]string, error) {
	result, err := c.ConsolidateDetailed(ctx, rawTags, distanceThreshold)
	if err != nil {
		return nil, err
	}
	return result.Tags, nil
}

// ConsolidateDetailed runs the pipeline and also reports names, clusters and
// the tag mapping. Any stage failure aborts the run and returns a *ConsolidationError.
func (c *Consolidator) ConsolidateDetailed(ctx context.Context, rawTags []string, distanceThreshold float64) (*Result, error) {
	// Invalid thresholds fail before any backend call
	if err := validateThreshold(distanceThreshold); err != nil {
		return nil, stageError(StageClustering, err)
	}

	normalized := make([]string, 0, len(rawTags))
	for _, raw := range rawTags {
		if tag := Normalize(raw); tag != "" {
			normalized = append(normalized, tag)
		}
	}

	result := &Result{
		Tags:     []string{},
		Names:    []string{},
		Clusters: []ClusterResult{},
		Mapping:  make(map[string]string, len(normalized)),
	}
	if len(normalized) == 0 {
		return result, nil
	}

	names, topics, err := Classify(ctx, c.detector, normalized)
	if err != nil {
		return nil, stageError(StageClassification, err)
	}
	result.Names = names
	for _, name := range names {
		result.Mapping[name] = name
	}

	if len(topics) > 0 {
		clusters, err := c.clusterTopics(ctx, topics, distanceThreshold)
		if err != nil {
			return nil, err
		}
		for _, cl := range clusters {
			for _, m := range cl.Members {
				result.Mapping[m] = cl.Representative
			}
		}
		result.Clusters = clusters
	}

	seen := make(map[string]struct{}, len(normalized))
	for _, tag := range normalized {
		mapped, ok := result.Mapping[tag]
		if !ok {
			return nil, stageError(StageClustering, fmt.Errorf("tag %q was not mapped", tag))
		}
		if _, dup := seen[mapped]; dup {
			continue
		}
		seen[mapped] = struct{}{}
		result.Tags = append(result.Tags, mapped)
	}
	sort.Strings(result.Tags)

	return result, nil
}

func (c *Consolidator) clusterTopics(ctx context.Context, topics []string, distanceThreshold float64) ([]ClusterResult, error) {
	embeddings, err := c.embedder.Embed(ctx, topics)
	if err != nil {
		return nil, stageError(StageEmbedding, err)
	}
	if len(embeddings) != len(topics) {
		return nil, stageError(StageEmbedding, fmt.Errorf("embedder returned %d vectors for %d topics", len(embeddings), len(topics)))
	}
	if err := validateEmbeddings(embeddings); err != nil {
		return nil, stageError(StageEmbedding, err)
	}

	labels, err := Cluster(embeddings, distanceThreshold)
	if err != nil {
		return nil, stageError(StageClustering, err)
	}

	byTag := make(map[string]Embedding, len(topics))
	for i, tag := range topics {
		byTag[tag] = embeddings[i]
	}

	groups := Groups(topics, labels)
	clusters := make([]ClusterResult, 0, len(groups))
	for _, members := range groups {
		rep, err := SelectRepresentative(members, byTag)
		if err != nil {
			return nil, stageError(StageClustering, err)
		}
		clusters = append(clusters, ClusterResult{Representative: rep, Members: members})
	}
	return clusters, nil
}
