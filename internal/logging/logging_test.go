package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/beamforge/beamforge/internal/config"
)

func TestNew_JSONFormat(t *testing.T) {
	logger := New(config.LoggingConfig{Level: "info", Format: "json"})
	assert.NotNil(t, logger)
}

func TestFromContext_AttachesJobAndIteration(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithIteration(WithJob(context.Background(), "job-42"), 3)
	logger := FromContext(ctx, base)
	logger.Info("iteration started")

	out := buf.String()
	assert.Contains(t, out, `"job_id":"job-42"`)
	assert.Contains(t, out, `"iteration":3`)
}

func TestFromContext_NoValuesOmitsAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	logger := FromContext(context.Background(), base)
	logger.Info("no correlation")

	out := buf.String()
	assert.NotContains(t, out, "job_id")
	assert.NotContains(t, out, "iteration")
}

func TestParseLevel_UnknownFallsBackToInfo(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
}
