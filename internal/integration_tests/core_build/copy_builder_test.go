package core_build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/testutil"
)

// A single copy builder over a single input: the smallest possible build.
func TestCopyBuilder_OneInput(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	outcome := p.Build([]*phase.BuilderApplication{
		testutil.CopyApp("copy", ".txt", ".txt.copy"),
	}, nil, nil)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	content, ok := p.Read("web/a.txt.copy")
	require.True(t, ok, "the copied output must land in the source tree")
	assert.Equal(t, "a", content)
	assert.Equal(t, 1, outcome.Result.ActionsRun)
	assert.Equal(t, 1, outcome.Result.OutputsWritten)
}

// Two independent full builds of identical trees produce identical outputs.
func TestDeterminism(t *testing.T) {
	files := map[string]string{
		"web/a.txt": "alpha",
		"web/b.txt": "beta",
	}
	apps := func() []*phase.BuilderApplication {
		return []*phase.BuilderApplication{
			testutil.CopyApp("copy", ".txt", ".txt.copy"),
		}
	}

	p1 := testutil.NewProject(t, files)
	p2 := testutil.NewProject(t, files)
	o1 := p1.Build(apps(), nil, nil)
	o2 := p2.Build(apps(), nil, nil)
	require.NoError(t, o1.Err)
	require.NoError(t, o2.Err)

	for _, out := range []string{"web/a.txt.copy", "web/b.txt.copy"} {
		c1, ok1 := p1.Read(out)
		c2, ok2 := p2.Read(out)
		require.True(t, ok1)
		require.True(t, ok2)
		assert.Equal(t, c1, c2)
	}
}

// A chained build where the second builder consumes the first's output.
func TestChainedBuilders(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	outcome := p.Build([]*phase.BuilderApplication{
		testutil.CopyApp("copy", ".txt", ".txt.copy"),
		testutil.CopyApp("clone", ".txt.copy", ".txt.copy.clone"),
	}, nil, nil)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	clone, ok := p.Read("web/a.txt.copy.clone")
	require.True(t, ok)
	assert.Equal(t, "a", clone)
}

// Pre-existing stale outputs are treated as absent under
// --delete-conflicting-outputs, and are a configuration error without it.
func TestPreExistingOutputs(t *testing.T) {
	files := map[string]string{
		"web/a.txt":      "a",
		"web/a.txt.copy": "stale",
	}
	apps := []*phase.BuilderApplication{
		testutil.CopyApp("copy", ".txt", ".txt.copy"),
		testutil.CopyApp("clone", ".txt.copy", ".txt.copy.clone"),
	}

	t.Run("without the flag the collision is fatal", func(t *testing.T) {
		p := testutil.NewProject(t, files)
		outcome := p.Build(apps, nil, nil)
		require.Error(t, outcome.Err)
	})

	t.Run("with the flag the stale file is replaced", func(t *testing.T) {
		p := testutil.NewProject(t, files)
		outcome := p.Build(apps, nil, &testutil.BuildOptions{DeleteConflictingOutputs: true})
		require.NoError(t, outcome.Err)
		require.True(t, outcome.Result.Succeeded)

		content, ok := p.Read("web/a.txt.copy")
		require.True(t, ok)
		assert.Equal(t, "a", content)

		clone, ok := p.Read("web/a.txt.copy.clone")
		require.True(t, ok)
		assert.Equal(t, "a", clone)
	})
}

// A step reading its own declared output sees "not found" before writing,
// its own bytes after, and records no self-edge either way.
func TestSelfReadLeavesNoSelfEdge(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	selfRead := &phase.BuilderApplication{
		Key: "selfread",
		Factory: func(*builder.Options) (builder.Builder, error) {
			return &testutil.SelfReadBuilder{From: ".txt", To: ".txt.echo"}, nil
		},
	}

	outcome := p.Build([]*phase.BuilderApplication{selfRead}, nil, nil)
	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded, outcome.LogOutput)

	content, ok := p.Read("web/a.txt.echo")
	require.True(t, ok)
	assert.Equal(t, "a", content)

	g := outcome.App.Graph()
	node := g.Get(assetid.New("a", "web/a.txt.echo"))
	require.NotNil(t, node)
	assert.False(t, node.Generated.Inputs.Contains(node.ID), "no self-edge after commit")
}

// An output slot the builder declared but never wrote is overdeclared: it
// must not exist on disk and must not act as an input downstream.
func TestOverdeclaredOutputIsNotAnInput(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	overdeclare := testutil.OverdeclareApp("silent", ".txt", []string{".txt.unexpected"}, nil)
	expected := testutil.CopyApp("expect", ".txt", ".txt.expected")
	copyAll := testutil.MultiCopyApp("copy_all", map[string][]string{
		".txt":            {".txt.copy"},
		".txt.expected":   {".txt.expected.copy"},
		".txt.unexpected": {".txt.unexpected.copy"},
	})

	outcome := p.Build([]*phase.BuilderApplication{overdeclare, expected, copyAll}, nil, nil)
	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	for ref, want := range map[string]string{
		"web/a.txt.copy":          "a",
		"web/a.txt.expected":      "a",
		"web/a.txt.expected.copy": "a",
	} {
		content, ok := p.Read(ref)
		require.True(t, ok, "expected %s to exist", ref)
		assert.Equal(t, want, content)
	}

	assert.False(t, p.Exists("web/a.txt.unexpected"), "overdeclared outputs never reach disk")
	assert.False(t, p.Exists("web/a.txt.unexpected.copy"), "overdeclared outputs are not inputs")
}
