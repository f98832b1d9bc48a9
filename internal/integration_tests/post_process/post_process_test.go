package post_process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/testutil"
)

func postApps() []*phase.PostBuilderApplication {
	return []*phase.PostBuilderApplication{
		{Key: "touch", Builder: &testutil.TouchPostProcess{Ext: ".txt", Marker: ".touched"}},
	}
}

// Post-process actions run after all in-build phases and write hidden
// outputs owned by their anchor.
func TestPostProcessRunsAfterPhases(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	outcome := p.Build([]*phase.BuilderApplication{
		testutil.CopyApp("copy", ".txt", ".txt.copy"),
	}, postApps(), nil)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	marker, ok := p.Read("$$a|web/a.txt.touched")
	require.True(t, ok, "post-process output must live in the hidden cache")
	assert.Equal(t, "a", marker)
	assert.False(t, p.Exists("web/a.txt.touched"), "post-process outputs are never non-hidden")
}

// An unchanged source skips its post-process action on the next build.
func TestPostProcessSkipsUnchangedInputs(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	first := p.Build(nil, postApps(), nil)
	require.NoError(t, first.Err)
	assert.Equal(t, 1, first.Result.ActionsRun)

	second := p.Build(nil, postApps(), nil)
	require.NoError(t, second.Err)
	assert.Equal(t, 0, second.Result.ActionsRun)

	p.WriteSource("web/a.txt", "a2")
	third := p.Build(nil, postApps(), nil)
	require.NoError(t, third.Err)
	assert.Equal(t, 1, third.Result.ActionsRun)
	marker, _ := p.Read("$$a|web/a.txt.touched")
	assert.Equal(t, "a2", marker)
}
