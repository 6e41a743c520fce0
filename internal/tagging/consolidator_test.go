package tagging

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sort"
	"testing"
)

func TestConsolidateScenarios(t *testing.T) {
	vectors := map[string]Embedding{
		"ai":                      {1, 0.1, 0},
		"artificial intelligence": {1, 0.2, 0},
		"cooking":                 {1, 0, 0},
		"finance":                 {0, 1, 0},
		"tag":                     {0, 0, 1},
	}

	tests := []struct {
		name       string
		raw        []string
		threshold  float64
		names      []string
		expected   []string
		embedCalls int
	}{
		{
			name:       "synonyms merge and names pass through",
			raw:        []string{"AI", "Artificial Intelligence", "John Smith"},
			threshold:  0.5,
			names:      []string{"john smith"},
			expected:   []string{"ai", "john smith"},
			embedCalls: 1,
		},
		{
			name:       "distinct topics survive a tight threshold",
			raw:        []string{"Cooking", "Finance"},
			threshold:  0.1,
			expected:   []string{"cooking", "finance"},
			embedCalls: 1,
		},
		{
			name:       "empty input",
			raw:        []string{},
			threshold:  0.3,
			expected:   []string{},
			embedCalls: 0,
		},
		{
			name:       "duplicates after normalization",
			raw:        []string{"  Tag!! ", "tag"},
			threshold:  0.3,
			expected:   []string{"tag"},
			embedCalls: 1,
		},
		{
			name:       "only names skips embedding",
			raw:        []string{"Jane Doe", "John Smith"},
			threshold:  0.3,
			names:      []string{"jane doe", "john smith"},
			expected:   []string{"jane doe", "john smith"},
			embedCalls: 0,
		},
		{
			name:       "tags that normalize to nothing are dropped",
			raw:        []string{"!!!", "Cooking", "   "},
			threshold:  0.3,
			expected:   []string{"cooking"},
			embedCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detector := newFakeDetector(tt.names...)
			embedder := newFakeEmbedder(vectors)
			c := NewConsolidator(detector, embedder)

			got, err := c.Consolidate(context.Background(), tt.raw, tt.threshold)
			if err != nil {
				t.Fatalf("Consolidate returned error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
			if embedder.callCount() != tt.embedCalls {
				t.Errorf("Expected %d embed calls, got %d", tt.embedCalls, embedder.callCount())
			}
		})
	}
}

func TestConsolidateEmptyInputMakesNoBackendCalls(t *testing.T) {
	detector := newFakeDetector()
	embedder := newFakeEmbedder(nil)
	c := NewConsolidator(detector, embedder)

	got, err := c.Consolidate(context.Background(), nil, 0.3)
	if err != nil {
		t.Fatalf("Consolidate returned error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil result, got %#v", got)
	}
	if detector.calls != 0 {
		t.Errorf("Expected no classifier calls, got %d", detector.calls)
	}
	if embedder.callCount() != 0 {
		t.Errorf("Expected no embedder calls, got %d", embedder.callCount())
	}
}

func TestConsolidateEmbedsTopicsOnceInOrder(t *testing.T) {
	detector := &fakeBatchDetector{fakeDetector: newFakeDetector("john smith")}
	embedder := newFakeEmbedder(map[string]Embedding{
		"finance": {0, 1, 0},
		"cooking": {1, 0, 0},
	})
	c := NewConsolidator(detector, embedder)

	_, err := c.Consolidate(context.Background(), []string{"Finance", "John Smith", "cooking", "FINANCE"}, 0.3)
	if err != nil {
		t.Fatalf("Consolidate returned error: %v", err)
	}

	if len(detector.batches) != 1 {
		t.Fatalf("Expected one batch classification, got %d", len(detector.batches))
	}
	if !reflect.DeepEqual(detector.batches[0], []string{"finance", "john smith", "cooking"}) {
		t.Errorf("Unexpected classification batch: %v", detector.batches[0])
	}
	if detector.calls != 0 {
		t.Errorf("Expected batch path only, got %d single calls", detector.calls)
	}

	if len(embedder.calls) != 1 {
		t.Fatalf("Expected exactly one embed call, got %d", len(embedder.calls))
	}
	if !reflect.DeepEqual(embedder.calls[0], []string{"finance", "cooking"}) {
		t.Errorf("Expected topics in first-occurrence order, got %v", embedder.calls[0])
	}
}

func TestConsolidateDetailed(t *testing.T) {
	detector := newFakeDetector("john smith")
	embedder := newFakeEmbedder(map[string]Embedding{
		"ai":                      {1, 0.1, 0},
		"artificial intelligence": {1, 0.2, 0},
		"finance":                 {0, 1, 0},
	})
	c := NewConsolidator(detector, embedder)

	result, err := c.ConsolidateDetailed(context.Background(),
		[]string{"Artificial Intelligence", "finance", "AI", "John Smith"}, 0.3)
	if err != nil {
		t.Fatalf("ConsolidateDetailed returned error: %v", err)
	}

	expectedTags := []string{"artificial intelligence", "finance", "john smith"}
	if !reflect.DeepEqual(result.Tags, expectedTags) {
		t.Errorf("Expected tags %v, got %v", expectedTags, result.Tags)
	}
	if !reflect.DeepEqual(result.Names, []string{"john smith"}) {
		t.Errorf("Unexpected names: %v", result.Names)
	}
	if len(result.Clusters) != 2 {
		t.Fatalf("Expected 2 clusters, got %d", len(result.Clusters))
	}
	if !reflect.DeepEqual(result.Clusters[0].Members, []string{"artificial intelligence", "ai"}) {
		t.Errorf("Unexpected first cluster: %+v", result.Clusters[0])
	}
	if result.Mapping["ai"] != "artificial intelligence" {
		t.Errorf("Expected ai to map to artificial intelligence, got %q", result.Mapping["ai"])
	}
	if result.Mapping["john smith"] != "john smith" {
		t.Errorf("Expected names to map to themselves, got %q", result.Mapping["john smith"])
	}
}

func TestConsolidateOutputIsSortedSetOfMappedTags(t *testing.T) {
	detector := newFakeDetector("ada lovelace")
	embedder := newFakeEmbedder(map[string]Embedding{
		"space":       {1, 0, 0},
		"outer space": {0.95, 0.05, 0},
		"rockets":     {0.7, 0.7, 0},
		"gardening":   {0, 0, 1},
	})
	c := NewConsolidator(detector, embedder)

	raw := []string{"Space", "Rockets", "Outer Space", "Ada Lovelace", "gardening", "space"}
	result, err := c.ConsolidateDetailed(context.Background(), raw, 0.2)
	if err != nil {
		t.Fatalf("ConsolidateDetailed returned error: %v", err)
	}

	if !sort.StringsAreSorted(result.Tags) {
		t.Errorf("Tags are not sorted: %v", result.Tags)
	}
	inOutput := make(map[string]bool)
	for i, tag := range result.Tags {
		if i > 0 && result.Tags[i-1] == tag {
			t.Errorf("Duplicate tag %q", tag)
		}
		inOutput[tag] = true
	}

	image := make(map[string]bool)
	for _, r := range raw {
		mapped, ok := result.Mapping[Normalize(r)]
		if !ok {
			t.Fatalf("Tag %q has no mapping", r)
		}
		if !inOutput[mapped] {
			t.Errorf("Mapped tag %q missing from output", mapped)
		}
		image[mapped] = true
	}
	for _, tag := range result.Tags {
		if !image[tag] {
			t.Errorf("Output tag %q is not the image of any input", tag)
		}
	}
}

func TestConsolidateDeterministic(t *testing.T) {
	detector := newFakeDetector("john smith")
	embedder := newFakeEmbedder(map[string]Embedding{
		"ai":                      {1, 0.1, 0},
		"artificial intelligence": {1, 0.2, 0},
		"machine learning":        {0.9, 0.4, 0},
		"cooking":                 {0, 0, 1},
	})
	c := NewConsolidator(detector, embedder)
	raw := []string{"AI", "Machine Learning", "Cooking", "John Smith", "Artificial Intelligence"}

	first, err := c.Consolidate(context.Background(), raw, 0.3)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := c.Consolidate(context.Background(), raw, 0.3)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("Run %d differs: %v vs %v", i, first, again)
		}
	}
}

func TestConsolidateFailures(t *testing.T) {
	backendErr := errors.New("backend unavailable")

	tests := []struct {
		name      string
		detector  *fakeDetector
		embedder  *fakeEmbedder
		tags      []string
		threshold float64
		sentinel  error
		stage     Stage
		noCalls   bool
	}{
		{
			name:      "classifier failure",
			detector:  &fakeDetector{names: map[string]bool{}, err: backendErr},
			embedder:  newFakeEmbedder(nil),
			threshold: 0.3,
			sentinel:  ErrClassification,
			stage:     StageClassification,
		},
		{
			name:      "embedder failure",
			detector:  newFakeDetector(),
			embedder:  &fakeEmbedder{err: backendErr},
			threshold: 0.3,
			sentinel:  ErrEmbedding,
			stage:     StageEmbedding,
		},
		{
			name:      "zero vector from embedder",
			detector:  newFakeDetector(),
			embedder:  newFakeEmbedder(map[string]Embedding{"cooking": {0, 0, 0}}),
			threshold: 0.3,
			sentinel:  ErrEmbedding,
			stage:     StageEmbedding,
		},
		{
			name:      "negative threshold",
			detector:  newFakeDetector(),
			embedder:  newFakeEmbedder(nil),
			threshold: -1,
			sentinel:  ErrClustering,
			stage:     StageClustering,
			noCalls:   true,
		},
		{
			name:      "negative threshold with empty input",
			detector:  newFakeDetector(),
			embedder:  newFakeEmbedder(nil),
			tags:      []string{},
			threshold: -1,
			sentinel:  ErrClustering,
			stage:     StageClustering,
			noCalls:   true,
		},
		{
			name:      "negative threshold with names only",
			detector:  newFakeDetector("john smith"),
			embedder:  newFakeEmbedder(nil),
			tags:      []string{"John Smith"},
			threshold: -1,
			sentinel:  ErrClustering,
			stage:     StageClustering,
			noCalls:   true,
		},
		{
			name:      "NaN threshold",
			detector:  newFakeDetector(),
			embedder:  newFakeEmbedder(nil),
			threshold: math.NaN(),
			sentinel:  ErrClustering,
			stage:     StageClustering,
			noCalls:   true,
		},
		{
			name:      "infinite threshold",
			detector:  newFakeDetector(),
			embedder:  newFakeEmbedder(nil),
			threshold: math.Inf(1),
			sentinel:  ErrClustering,
			stage:     StageClustering,
			noCalls:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.tags
			if input == nil {
				input = []string{"Cooking", "Finance"}
			}
			c := NewConsolidator(tt.detector, tt.embedder)
			tags, err := c.Consolidate(context.Background(), input, tt.threshold)
			if err == nil {
				t.Fatalf("Expected error, got tags %v", tags)
			}
			if tags != nil {
				t.Errorf("Expected no partial tags, got %v", tags)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("Expected %v, got %v", tt.sentinel, err)
			}
			var cerr *ConsolidationError
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected *ConsolidationError, got %T", err)
			}
			if cerr.Stage != tt.stage {
				t.Errorf("Expected stage %s, got %s", tt.stage, cerr.Stage)
			}
			if tt.noCalls && (tt.detector.calls != 0 || len(tt.embedder.calls) != 0) {
				t.Errorf("Expected no backend calls, got %d detector and %d embedder calls",
					tt.detector.calls, len(tt.embedder.calls))
			}
		})
	}
}

func TestConsolidateConcurrentRuns(t *testing.T) {
	detector := newFakeDetector("john smith")
	embedder := newFakeEmbedder(map[string]Embedding{
		"ai":                      {1, 0.1, 0},
		"artificial intelligence": {1, 0.2, 0},
	})
	c := NewConsolidator(detector, embedder)

	done := make(chan []string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			tags, err := c.Consolidate(context.Background(), []string{"AI", "Artificial Intelligence", "John Smith"}, 0.5)
			if err != nil {
				t.Errorf("Consolidate returned error: %v", err)
			}
			done <- tags
		}()
	}
	for i := 0; i < 8; i++ {
		tags := <-done
		if !reflect.DeepEqual(tags, []string{"ai", "john smith"}) {
			t.Errorf("Unexpected tags %v", tags)
		}
	}
}
