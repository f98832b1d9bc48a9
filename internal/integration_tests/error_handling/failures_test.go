package error_handling

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/testutil"
)

// A failing step marks the build failed; transitive generated outputs
// inherit the failure and never reach disk, but the failure is reported
// once, for the step that actually raised.
func TestBuilderFailure_Cascades(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
		"web/b.md":  "b",
	})

	outcome := p.Build([]*phase.BuilderApplication{
		testutil.FailingApp("failer", ".txt", ".txt.fail"),
		testutil.CopyApp("clone", ".txt.fail", ".txt.fail.clone"),
		testutil.CopyApp("md", ".md", ".md.copy"),
	}, nil, nil)

	require.NoError(t, outcome.Err, "builder failures do not abort the engine")
	assert.False(t, outcome.Result.Succeeded)
	require.Len(t, outcome.Result.Failures, 1)
	assert.Equal(t, "failer", outcome.Result.Failures[0].Builder)
	assert.Equal(t, "a|web/a.txt", outcome.Result.Failures[0].Input.String())

	assert.False(t, p.Exists("web/a.txt.fail"))
	assert.False(t, p.Exists("web/a.txt.fail.clone"), "descendants of a failed step stay absent")

	// Unrelated steps still run.
	md, ok := p.Read("web/b.md.copy")
	require.True(t, ok)
	assert.Equal(t, "b", md)
}

// A fixed input clears a previously recorded failure on the next build.
func TestFailureInvalidatedByInputChange(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	apps := []*phase.BuilderApplication{
		testutil.FailingApp("failer", ".txt", ".txt.fail"),
	}

	first := p.Build(apps, nil, nil)
	require.NoError(t, first.Err)
	assert.False(t, first.Result.Succeeded)

	// Unchanged input: the failure is remembered without re-running.
	second := p.Build(apps, nil, nil)
	require.NoError(t, second.Err)
	assert.False(t, second.Result.Succeeded)

	// A changed input re-runs the failed step.
	p.WriteSource("web/a.txt", "a2")
	third := p.Build([]*phase.BuilderApplication{
		testutil.CopyApp("failer", ".txt", ".txt.fail"),
	}, nil, nil)
	require.NoError(t, third.Err)
	assert.True(t, third.Result.Succeeded)
	content, _ := p.Read("web/a.txt.fail")
	assert.Equal(t, "a2", content)
}

// Self-feeding build extensions are rejected before anything runs.
func TestExtensionOverlapRejectedAtSetup(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	outcome := p.Build([]*phase.BuilderApplication{
		testutil.CopyApp("echo", ".txt", ".g.txt"),
	}, nil, nil)

	require.Error(t, outcome.Err)
	var extErr *builder.ExtensionsError
	assert.True(t, errors.As(outcome.Err, &extErr))
	assert.False(t, p.Exists("web/a.g.txt"))
}

// A factory failure aborts the whole build before any step runs.
func TestFactoryFailureAborts(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
	})

	boom := errors.New("factory exploded")
	outcome := p.Build([]*phase.BuilderApplication{
		{
			Key: "broken",
			Factory: func(*builder.Options) (builder.Builder, error) {
				return nil, boom
			},
		},
	}, nil, nil)

	require.Error(t, outcome.Err)
	var cbe *builder.CannotBuildError
	assert.True(t, errors.As(outcome.Err, &cbe))
}

// A panicking builder is contained as a step failure.
func TestPanickingBuilderIsContained(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt": "a",
		"web/b.md":  "b",
	})

	panicApp := &phase.BuilderApplication{
		Key: "panicker",
		Factory: func(*builder.Options) (builder.Builder, error) {
			return &panickingBuilder{}, nil
		},
	}

	outcome := p.Build([]*phase.BuilderApplication{
		panicApp,
		testutil.CopyApp("md", ".md", ".md.copy"),
	}, nil, nil)

	require.NoError(t, outcome.Err)
	assert.False(t, outcome.Result.Succeeded)
	require.Len(t, outcome.Result.Failures, 1)
	assert.Contains(t, outcome.Result.Failures[0].Err.Error(), "panicked")
	assert.True(t, p.Exists("web/b.md.copy"), "other steps keep running")
}

type panickingBuilder struct{}

func (b *panickingBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{".txt": {".txt.boom"}}
}

func (b *panickingBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	panic("kaboom")
}
