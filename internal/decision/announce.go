package decision

import (
	"fmt"

	"github.com/Brownie44l1/currency-api/internal/model"
)

const (
	UnknownAnnouncement = "Unknown currency. Please try again."
	UnknownSpoken       = "No familiar currency detected."
)

var amountInWords = map[string]string{
	"ten":          "Ten Indian Rupees",
	"twenty":       "Twenty Indian Rupees",
	"fifty":        "Fifty Indian Rupees",
	"hundred":      "One Hundred Indian Rupees",
	"two hundred":  "Two Hundred Indian Rupees",
	"five hundred": "Five Hundred Indian Rupees",
	"two thousand": "Two Thousand Indian Rupees",
	"one":          "One Indian Rupee",
	"five":         "Five Indian Rupees",
}

// Announcement is the amount in words shown under a detected label.
func Announcement(label string) string {
	if s, ok := amountInWords[label]; ok {
		return s
	}
	return UnknownAnnouncement
}

// SpokenText is what the speech collaborator reads out for r.
func SpokenText(r model.DetectionResult) string {
	if s, ok := amountInWords[r.Label]; ok {
		return s
	}
	return UnknownSpoken
}

// FormatConfidence renders a confidence in [0,1] as a percentage with two decimals.
func FormatConfidence(confidence float32) string {
	return fmt.Sprintf("%.2f%%", confidence*100)
}
