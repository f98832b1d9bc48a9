package output

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/testutil"
)

// --output materializes the merged source+generated tree, including hidden
// outputs at their logical locations, with other packages' lib assets under
// packages/<pkg>/.
func TestOutputDirMaterializesMergedTree(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt":   "a",
		"b|lib/b.txt": "b",
	})

	hidden := testutil.CopyApp("hide", ".txt", ".txt.hid")
	hidden.HideOutput = true

	outDir := t.TempDir()
	outcome := p.Build([]*phase.BuilderApplication{
		hidden,
	}, nil, &testutil.BuildOptions{OutputDir: outDir})

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	readOut := func(rel string) string {
		content, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(rel)))
		require.NoError(t, err, "expected %s in the output dir", rel)
		return string(content)
	}

	assert.Equal(t, "a", readOut("web/a.txt"))
	assert.Equal(t, "a", readOut("web/a.txt.hid"), "hidden outputs appear at their logical path")
	assert.Equal(t, "b", readOut("packages/b/b.txt"))
	assert.Equal(t, "b", readOut("packages/b/b.txt.hid"))
}

// A failed build leaves the output dir untouched.
func TestOutputDirSkippedOnFailure(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	outDir := filepath.Join(t.TempDir(), "out")
	outcome := p.Build([]*phase.BuilderApplication{
		testutil.FailingApp("failer", ".txt", ".txt.fail"),
	}, nil, &testutil.BuildOptions{OutputDir: outDir})

	require.NoError(t, outcome.Err)
	assert.False(t, outcome.Result.Succeeded)
	_, err := os.Stat(outDir)
	assert.True(t, os.IsNotExist(err), "no output tree on failure")
}
