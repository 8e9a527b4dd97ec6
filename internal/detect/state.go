package detect

import (
	"image"

	"github.com/Brownie44l1/currency-api/internal/model"
)

// Kind tags the variant held by a State.
type Kind int

const (
	Idle Kind = iota
	Loading
	Success
	Error
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "unknown"
}

// State is the single observable value published by a Detector.
// It is replaced wholesale on every transition and never modified after publication.
type State struct {
	Kind    Kind
	Seq     uint64                // request the state belongs to
	Image   image.Image           // source image of the request, nil when Idle
	Result  model.DetectionResult // set when Kind == Success
	Message string                // set when Kind == Error
}

// Terminal reports whether s ends a request.
func (s State) Terminal() bool {
	return s.Kind == Success || s.Kind == Error
}
