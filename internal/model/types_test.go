package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, []string{"ten", "twenty", "fifty", "hundred", "two hundred", "five hundred", "two thousand", "one", "five"}, cfg.Labels)
	require.Equal(t, []int64{1, 224, 224, 3}, cfg.InputShape())
	require.Equal(t, 224*224*3, cfg.InputSize())
	require.Equal(t, float32(0.7), cfg.ConfidenceThreshold)
}

func TestMetadataCheck(t *testing.T) {
	cfg := DefaultConfig()
	md, err := LoadMetadata("testdata/metadata.json")
	require.NoError(t, err)
	require.NoError(t, md.Check(cfg))

	require.NoError(t, (&Metadata{}).Check(cfg))

	bad := *md
	bad.InputShape = []int64{1, 3, 224, 224}
	require.ErrorIs(t, bad.Check(cfg), ErrMetadataMismatch)

	bad = *md
	bad.Classes = []string{"twenty", "ten", "fifty", "hundred", "two hundred", "five hundred", "two thousand", "one", "five"}
	require.ErrorIs(t, bad.Check(cfg), ErrMetadataMismatch)

	bad = *md
	bad.OutputShape = []int64{1, 7}
	require.ErrorIs(t, bad.Check(cfg), ErrMetadataMismatch)

	bad = *md
	bad.ImageSize = 48
	require.ErrorIs(t, bad.Check(cfg), ErrMetadataMismatch)
}

func TestLoadMetadataMissing(t *testing.T) {
	_, err := LoadMetadata("testdata/missing.json")
	require.Error(t, err)
}

func TestNoDetection(t *testing.T) {
	r := NoDetection(nil)
	require.Equal(t, UnknownLabel, r.Label)
	require.Zero(t, r.Confidence)
}
