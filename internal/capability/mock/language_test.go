package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamforge/beamforge/internal/capability"
)

func TestLanguage_SameSeedProducesSameSequence(t *testing.T) {
	a := NewLanguage(42)
	b := NewLanguage(42)

	ra, err := a.RefinePrompt(context.Background(), "a cat", capability.RefineOptions{Dimension: "what"})
	require.NoError(t, err)
	rb, err := b.RefinePrompt(context.Background(), "a cat", capability.RefineOptions{Dimension: "what"})
	require.NoError(t, err)

	assert.Equal(t, ra.RefinedText, rb.RefinedText)
}

func TestLanguage_CombinePrompts(t *testing.T) {
	l := NewLanguage(1)
	r, err := l.CombinePrompts(context.Background(), "what", "how", capability.CombineOptions{Descriptiveness: 2})
	require.NoError(t, err)
	assert.Contains(t, r.CombinedText, "what")
	assert.Contains(t, r.CombinedText, "how")
}

func TestLanguage_OptionalExtensionsGatedByFlag(t *testing.T) {
	l := NewLanguage(1)

	_, ok := capability.SupportsCritique(l)
	assert.True(t, ok, "Language always implements CritiqueCapability at the type level")

	_, err := l.GenerateCritique(context.Background(), "loc", "prompt")
	assert.Error(t, err, "critique disabled by default")

	l.Critique = true
	res, err := l.GenerateCritique(context.Background(), "loc", "prompt")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Critique)
}

func TestLanguage_BatchRefine(t *testing.T) {
	l := NewLanguage(7)
	l.Batch = true

	batch, ok := capability.SupportsBatchRefine(l)
	require.True(t, ok)

	results, err := batch.RefinePrompts(context.Background(), []string{"one", "two"}, capability.RefineOptions{Dimension: "how"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestLanguage_ContextCancelled(t *testing.T) {
	l := NewLanguage(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.RefinePrompt(ctx, "x", capability.RefineOptions{})
	assert.Error(t, err)
}
