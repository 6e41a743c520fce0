package tagging

import (
	"context"
	"sync"
)

// fakeDetector treats a fixed set of tags as person names
type fakeDetector struct {
	names map[string]bool
	err   error

	mu    sync.Mutex
	calls int
}

func newFakeDetector(names ...string) *fakeDetector {
	d := &fakeDetector{names: make(map[string]bool)}
	for _, n := range names {
		d.names[n] = true
	}
	return d
}

func (d *fakeDetector) IsPersonName(ctx context.Context, tag string) (bool, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.names[tag], nil
}

// fakeBatchDetector also implements the batch form
type fakeBatchDetector struct {
	*fakeDetector
	batches [][]string
}

func (d *fakeBatchDetector) ClassifyBatch(ctx context.Context, tags []string) ([]bool, error) {
	d.batches = append(d.batches, append([]string(nil), tags...))
	if d.err != nil {
		return nil, d.err
	}
	flags := make([]bool, len(tags))
	for i, tag := range tags {
		flags[i] = d.names[tag]
	}
	return flags, nil
}

// fakeEmbedder returns fixed vectors per tag
type fakeEmbedder struct {
	vectors map[string]Embedding
	err     error

	mu    sync.Mutex
	calls [][]string
}

func newFakeEmbedder(vectors map[string]Embedding) *fakeEmbedder {
	return &fakeEmbedder{vectors: vectors}
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), texts...))
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([]Embedding, len(texts))
	for i, text := range texts {
		v, ok := e.vectors[text]
		if !ok {
			v = Embedding{1, 1, 1}
		}
		out[i] = v
	}
	return out, nil
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}
