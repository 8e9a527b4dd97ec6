// Package decision turns classifier scores into a labeled, confidence-gated result.
package decision

import (
	"math"

	"github.com/Brownie44l1/currency-api/internal/model"
)

// Decide picks the highest score, the first one on ties. The label is reported
// only when that score reaches threshold (inclusive) and has a label; otherwise
// the label is Unknown. The top score is always reported as the confidence.
// Scores containing NaN or an infinity have no meaningful maximum and decide
// Unknown with zero confidence.
func Decide(scores model.ScoreVector, labels []string, threshold float32) model.DetectionResult {
	if len(scores) == 0 {
		return model.NoDetection(nil)
	}

	maxIdx := 0
	maxVal := scores[0]
	for i, v := range scores {
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return model.NoDetection(nil)
		}
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}

	label := model.UnknownLabel
	if maxIdx < len(labels) && maxVal >= threshold {
		label = labels[maxIdx]
	}
	return model.DetectionResult{
		Label:      label,
		Confidence: maxVal,
	}
}
