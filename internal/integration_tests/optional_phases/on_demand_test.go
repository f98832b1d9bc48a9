package optional_phases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/testutil"
)

func optional(app *phase.BuilderApplication) *phase.BuilderApplication {
	app.IsOptional = true
	return app
}

// Demand propagates backwards from the non-optional tail through a chain of
// optional phases.
func TestOptionalChain_DemandPropagates(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	outcome := p.Build([]*phase.BuilderApplication{
		optional(testutil.CopyApp("one", ".txt", ".txt.1")),
		optional(testutil.CopyApp("two", ".txt.1", ".txt.2")),
		testutil.CopyApp("three", ".txt.2", ".txt.3"),
	}, nil, nil)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	for _, ref := range []string{"web/a.txt.1", "web/a.txt.2", "web/a.txt.3"} {
		content, ok := p.Read(ref)
		require.True(t, ok, "expected %s to exist", ref)
		assert.Equal(t, "a", content)
	}
}

// An optional phase nobody demands never runs.
func TestOptionalPhase_NotDemanded_NotBuilt(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	outcome := p.Build([]*phase.BuilderApplication{
		optional(testutil.CopyApp("lazy", ".txt", ".txt.lazy")),
		testutil.CopyApp("copy", ".txt", ".txt.copy"),
	}, nil, nil)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	assert.True(t, p.Exists("web/a.txt.copy"))
	assert.False(t, p.Exists("web/a.txt.lazy"), "undemanded optional output must not be produced")
	assert.Equal(t, 1, outcome.Result.ActionsRun)
}

// Hidden outputs of a non-optional phase behind a non-matching build filter
// are not produced eagerly.
func TestBuildFilters_LimitHiddenOutputs(t *testing.T) {
	hiddenCopy := testutil.CopyApp("hidden", ".txt", ".txt.hid")
	hiddenCopy.HideOutput = true

	t.Run("matching filter builds the output", func(t *testing.T) {
		p := testutil.NewProject(t, map[string]string{"web/a.txt": "a"})
		outcome := p.Build([]*phase.BuilderApplication{hiddenCopy}, nil, &testutil.BuildOptions{
			BuildFilters: []string{"a|web/**"},
		})
		require.NoError(t, outcome.Err)
		assert.True(t, p.Exists("$$a|web/a.txt.hid"))
	})

	t.Run("non-matching filter skips the output", func(t *testing.T) {
		p := testutil.NewProject(t, map[string]string{"web/a.txt": "a"})
		outcome := p.Build([]*phase.BuilderApplication{hiddenCopy}, nil, &testutil.BuildOptions{
			BuildFilters: []string{"a|lib/**"},
		})
		require.NoError(t, outcome.Err)
		assert.False(t, p.Exists("$$a|web/a.txt.hid"))
		assert.Equal(t, 0, outcome.Result.ActionsRun)
	})
}
