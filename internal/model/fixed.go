package model

import (
	"context"
	"slices"
	"time"
)

// FixedClassifier returns the same scores for every tensor. It stands in for
// the Engine in previews and tests.
type FixedClassifier struct {
	Scores ScoreVector
	Delay  time.Duration
	Err    error
}

// NewFixedClassifier returns a classifier that reports label with the given
// confidence and splits the remainder evenly across the other labels.
func NewFixedClassifier(config ModelConfig, label string, confidence float32) *FixedClassifier {
	scores := make(ScoreVector, len(config.Labels))
	idx := slices.Index(config.Labels, label)
	rest := float32(len(config.Labels))
	if idx >= 0 {
		rest--
	}
	for i := range scores {
		if i == idx {
			scores[i] = confidence
		} else if rest > 0 {
			scores[i] = (1 - confidence) / rest
		}
	}
	return &FixedClassifier{Scores: scores}
}

func (f *FixedClassifier) Infer(ctx context.Context, t Tensor) (ScoreVector, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return slices.Clone(f.Scores), nil
}
