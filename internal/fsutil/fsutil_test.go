package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(rel), 0o644))
}

func TestScanFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "web/a.txt")
	writeFile(t, dir, "lib/src/b.txt")
	writeFile(t, dir, ".assetforge/generated/a/web/a.g.txt")
	writeFile(t, dir, "node_modules/dep/x.txt")

	files, err := ScanFiles(dir, "node_modules")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web/a.txt", "lib/src/b.txt"}, files)
}

func TestFilterPaths(t *testing.T) {
	paths := []string{"web/a.txt", "web/a.md", "lib/b.txt", "web/gen/c.txt"}

	got := FilterPaths(paths, []string{"web/**"}, []string{"web/gen/**"})
	assert.Equal(t, []string{"web/a.txt", "web/a.md"}, got)

	// No includes means everything passes the include stage.
	got = FilterPaths(paths, nil, []string{"**/*.md"})
	assert.Equal(t, []string{"web/a.txt", "lib/b.txt", "web/gen/c.txt"}, got)
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, MatchGlob("web/**", "web/sub/deep/a.txt"))
	assert.True(t, MatchGlob("**/*.txt", "lib/a.txt"))
	assert.False(t, MatchGlob("web/*.txt", "web/sub/a.txt"))
	require.Error(t, ValidateGlob("web/[broken"))
}
