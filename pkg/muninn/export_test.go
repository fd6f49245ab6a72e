package muninn

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/pattern"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := src.Store(ctx, mkPattern("a", "token bucket limiter", 0.95, 5, 50))
	require.NoError(t, err)
	_, err = src.Store(ctx, mkPattern("b", "circuit breaker", 0.7, 10, 20))
	require.NoError(t, err)
	_, err = src.Store(ctx, mkPattern("c", "dusty workaround", 0.3, 2, 2))
	require.NoError(t, err)
	_, err = src.Store(ctx, mkPattern("d", "noise blip", 0.1, 0, 1))
	require.NoError(t, err)

	// One read so there is access history to carry across.
	_, _, err = src.Get(ctx, "a")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := src.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "rejected patterns export too")

	dst := newTestEngine(t, nil)
	stored, failed, err := dst.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, stored)
	assert.Zero(t, failed)

	// Imports re-route by quality, landing where they did before.
	p, tr, err := dst.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierPremium, tr)
	assert.Equal(t, "token bucket limiter", p.Title)
	assert.Equal(t, int64(2), p.Access.AccessCount, "history carried over, plus this read")

	_, tr, err = dst.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, pattern.TierRejected, tr)

	s, err := dst.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Patterns)
	assert.Equal(t, 3, s.Index.Items)
}

func TestExportEmpty(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := e.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	stored, failed, err := e.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Zero(t, failed)
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	e := newTestEngine(t, nil)

	_, _, err := e.Import(context.Background(), strings.NewReader(`{"version":99,"patterns":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export version 99")
}

func TestImportMalformed(t *testing.T) {
	e := newTestEngine(t, nil)

	_, _, err := e.Import(context.Background(), strings.NewReader("not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode import")
}
