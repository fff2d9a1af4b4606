package correlation

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID_Length(t *testing.T) {
	assert.Len(t, NewID(), 8)
}

func TestNewID_Unique(t *testing.T) {
	ids := make(map[string]struct{}, 100)
	for range 100 {
		ids[NewID()] = struct{}{}
	}
	assert.Len(t, ids, 100)
}

func TestID_Missing(t *testing.T) {
	id, ok := ID(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestID_EmptyString(t *testing.T) {
	id, ok := ID(WithID(context.Background(), ""))
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestEnsure_UsesGivenID(t *testing.T) {
	ctx, id := Ensure(context.Background(), "env00001")
	assert.Equal(t, "env00001", id)

	got, ok := ID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "env00001", got)
}

func TestEnsure_KeepsExistingID(t *testing.T) {
	parent := WithID(context.Background(), "parent01")
	ctx, id := Ensure(parent, "")
	assert.Equal(t, "parent01", id)
	assert.Equal(t, parent, ctx)
}

func TestEnsure_GeneratesWhenMissing(t *testing.T) {
	ctx, id := Ensure(context.Background(), "")
	assert.Len(t, id, 8)

	got, ok := ID(ctx)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestHandler_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.InfoContext(WithID(context.Background(), "test1234"), "test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "correlation_id=test1234")
	assert.Contains(t, output, "key=value")
}

func TestHandler_NoCorrelationID_WhenMissing(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.InfoContext(context.Background(), "no correlation")

	assert.NotContains(t, buf.String(), "correlation_id")
}

func TestHandler_WithAttrs_PreservesCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))).With("component", "eventbus")

	logger.InfoContext(WithID(context.Background(), "attr1234"), "with attrs")

	output := buf.String()
	assert.Contains(t, output, "correlation_id=attr1234")
	assert.Contains(t, output, "component=eventbus")
}
