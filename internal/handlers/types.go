package handlers

import (
	"github.com/Brownie44l1/currency-api/internal/decision"
	"github.com/Brownie44l1/currency-api/internal/detect"
)

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
	Spoken      string             `json:"spoken"`
}

// StateResponse is the JSON rendering of a detect.State.
type StateResponse struct {
	State          string  `json:"state"`
	Seq            uint64  `json:"seq"`
	Label          string  `json:"label,omitempty"`
	Confidence     float32 `json:"confidence"`
	ConfidenceText string  `json:"confidence_text,omitempty"`
	Announcement   string  `json:"announcement,omitempty"`
	Spoken         string  `json:"spoken,omitempty"`
	Message        string  `json:"message,omitempty"`
	HasImage       bool    `json:"has_image"`
}

func newStateResponse(s detect.State) StateResponse {
	resp := StateResponse{
		State:    s.Kind.String(),
		Seq:      s.Seq,
		HasImage: s.Image != nil,
	}
	switch s.Kind {
	case detect.Success:
		resp.Label = s.Result.Label
		resp.Confidence = s.Result.Confidence
		resp.ConfidenceText = decision.FormatConfidence(s.Result.Confidence)
		resp.Announcement = decision.Announcement(s.Result.Label)
		resp.Spoken = decision.SpokenText(s.Result)
	case detect.Error:
		resp.Message = s.Message
	}
	return resp
}

type HealthResponse struct {
	Status string       `json:"status"`
	Model  string       `json:"model"`
	Error  string       `json:"error,omitempty"`
	Stats  detect.Stats `json:"stats"`
}
