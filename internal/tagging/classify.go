package tagging

import (
	"context"
	"fmt"
)

// NameDetector reports whether a normalized tag contains a person entity.
// Implementations must be deterministic for a fixed model version.
type NameDetector interface {
	IsPersonName(ctx context.Context, tag string) (bool, error)
}

// BatchNameDetector classifies many tags in one call. The result has one flag
// per input tag, in input order.
type BatchNameDetector interface {
	NameDetector
	ClassifyBatch(ctx context.Context, tags []string) ([]bool, error)
}

// Classify splits tags into person names and topics. Duplicates are collapsed
// and both groups keep the order of first occurrence.
func Classify(ctx context.Context, detector NameDetector, tags []string) (names, topics []string, err error) {
	unique := dedupe(tags)
	if len(unique) == 0 {
		return []string{}, []string{}, nil
	}

	flags, err := detectNames(ctx, detector, unique)
	if err != nil {
		return nil, nil, err
	}

	names = make([]string, 0, len(unique))
	topics = make([]string, 0, len(unique))
	for i, tag := range unique {
		if flags[i] {
			names = append(names, tag)
		} else {
			topics = append(topics, tag)
		}
	}
	return names, topics, nil
}

func detectNames(ctx context.Context, detector NameDetector, tags []string) ([]bool, error) {
	if batch, ok := detector.(BatchNameDetector); ok {
		flags, err := batch.ClassifyBatch(ctx, tags)
		if err != nil {
			return nil, err
		}
		if len(flags) != len(tags) {
			return nil, fmt.Errorf("name detector returned %d results for %d tags", len(flags), len(tags))
		}
		return flags, nil
	}

	flags := make([]bool, len(tags))
	for i, tag := range tags {
		isName, err := detector.IsPersonName(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("classify %q: %w", tag, err)
		}
		flags[i] = isName
	}
	return flags, nil
}

func dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
