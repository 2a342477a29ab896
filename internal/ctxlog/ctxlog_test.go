package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext_Missing(t *testing.T) {
	assert.Panics(t, func() { FromContext(context.Background()) })
}

func TestWith_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	ctx = With(ctx, "batch", "b-1")

	FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), "batch=b-1")
}

func TestEnsure(t *testing.T) {
	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := Ensure(context.Background(), fallback)
	assert.Same(t, fallback, FromContext(ctx))

	other := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx = Ensure(WithLogger(context.Background(), other), fallback)
	assert.Same(t, other, FromContext(ctx))
}
