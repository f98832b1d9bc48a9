package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/pkggraph"
)

func TestWatcherEmitsDebouncedBatches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "web"), 0o755))

	pkgs, err := pkggraph.SinglePackage("a", dir)
	require.NoError(t, err)

	w, err := New(pkgs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Two rapid writes coalesce into one batch.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web", "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web", "b.txt"), []byte("b"), 0o644))

	select {
	case batch := <-w.Batches():
		assert.NotEmpty(t, batch)
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change batch")
	}
}

func TestWatcherIgnoresEngineCache(t *testing.T) {
	dir := t.TempDir()
	pkgs, err := pkggraph.SinglePackage("a", dir)
	require.NoError(t, err)

	w, err := New(pkgs)
	require.NoError(t, err)

	assert.True(t, w.ignored(filepath.Join(dir, ".assetforge", "generated", "a", "x.txt")))
	assert.True(t, w.ignored(filepath.Join(dir, ".assetforge")))
	assert.False(t, w.ignored(filepath.Join(dir, "web", "x.txt")))
}
