package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamforge/beamforge/internal/capability"
)

func TestVision_CompareImagesIsDeterministicPerLocator(t *testing.T) {
	v := NewVision(3, 8)
	items := []capability.CompareItem{
		{Label: "A", Locator: "mock://1"},
		{Label: "B", Locator: "mock://2"},
		{Label: "C", Locator: "mock://3"},
	}

	first, err := v.CompareImages(context.Background(), items, "a dog")
	require.NoError(t, err)

	second, err := v.CompareImages(context.Background(), items, "a different prompt")
	require.NoError(t, err)

	require.Len(t, first.Ranking, 3)
	require.Len(t, second.Ranking, 3)
	for i := range first.Ranking {
		assert.Equal(t, first.Ranking[i].Label, second.Ranking[i].Label)
	}
}

func TestVision_MultiImageThreshold(t *testing.T) {
	v := NewVision(1, 12)
	n, err := v.MultiImageThreshold(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestVision_MultiImageThreshold_FloorsBelowTwo(t *testing.T) {
	v := NewVision(1, 0)
	n, err := v.MultiImageThreshold(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestVision_AnalysisDisabledByDefault(t *testing.T) {
	v := NewVision(1, 4)
	_, ok := capability.SupportsAnalysis(v)
	require.True(t, ok)

	_, err := v.AnalyzeImage(context.Background(), "mock://1", "prompt")
	assert.Error(t, err)
}

func TestVision_AnalysisEnabled(t *testing.T) {
	v := NewVision(1, 4)
	v.Analysis = true

	res, err := v.AnalyzeImage(context.Background(), "mock://1", "prompt")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.AlignmentScore, 0.0)
	assert.LessOrEqual(t, res.AlignmentScore, 100.0)
}
