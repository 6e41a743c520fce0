package tagging

import (
	"errors"
	"fmt"
)

// Stage identifies the consolidation step that failed
type Stage string

const (
	StageClassification Stage = "classification"
	StageEmbedding      Stage = "embedding"
	StageClustering     Stage = "clustering"
)

var (
	// ErrClassification is returned when the name detector fails
	ErrClassification = errors.New("tag classification failed")
	// ErrEmbedding is returned when the embedding backend fails or returns malformed vectors
	ErrEmbedding = errors.New("tag embedding failed")
	// ErrClustering is returned for invalid thresholds and numerical failures
	ErrClustering = errors.New("tag clustering failed")
)

// ConsolidationError aborts a consolidation run. It matches the sentinel of its
// stage through errors.Is and unwraps to the underlying cause.
type ConsolidationError struct {
	Stage Stage
	Err   error
}

func (e *ConsolidationError) Error() string {
	return fmt.Sprintf("consolidation %s stage: %v", e.Stage, e.Err)
}

func (e *ConsolidationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's stage
func (e *ConsolidationError) Is(target error) bool {
	switch e.Stage {
	case StageClassification:
		return target == ErrClassification
	case StageEmbedding:
		return target == ErrEmbedding
	case StageClustering:
		return target == ErrClustering
	}
	return false
}

func stageError(stage Stage, err error) error {
	return &ConsolidationError{Stage: stage, Err: err}
}
