package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamforge/beamforge/internal/capability"
)

func TestImage_RepeatedPromptIsCached(t *testing.T) {
	img := NewImage(4)
	ctx := context.Background()

	first, err := img.GenerateImage(ctx, "a castle", capability.ImageOptions{Iteration: 0, CandidateID: 1})
	require.NoError(t, err)
	assert.False(t, first.Metadata["cached"].(bool))

	second, err := img.GenerateImage(ctx, "a castle", capability.ImageOptions{Iteration: 0, CandidateID: 2})
	require.NoError(t, err)
	assert.True(t, second.Metadata["cached"].(bool))
}

func TestImage_BatchDisabledByDefault(t *testing.T) {
	img := NewImage(4)
	_, ok := capability.SupportsBatch(img)
	require.True(t, ok, "Image implements BatchImageCapability at the type level")

	_, err := img.GenerateImages(context.Background(), []string{"a"}, []capability.ImageOptions{{}})
	assert.Error(t, err)
}

func TestImage_BatchGeneratesAll(t *testing.T) {
	img := NewImage(4)
	img.Batch = true

	results, err := img.GenerateImages(context.Background(), []string{"a", "b", "c"}, []capability.ImageOptions{{}, {}, {}})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestImage_BatchLengthMismatch(t *testing.T) {
	img := NewImage(4)
	img.Batch = true

	_, err := img.GenerateImages(context.Background(), []string{"a", "b"}, []capability.ImageOptions{{}})
	assert.Error(t, err)
}
