package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/testutil"
)

func probeApp(key, from, to string) *phase.BuilderApplication {
	return &phase.BuilderApplication{
		Key: key,
		Factory: func(*builder.Options) (builder.Builder, error) {
			return &testutil.ProbeBuilder{From: from, To: to}, nil
		},
	}
}

func globApp(key, from, to string) *phase.BuilderApplication {
	return &phase.BuilderApplication{
		Key: key,
		Factory: func(*builder.Options) (builder.Builder, error) {
			return &testutil.GlobBuilder{From: from, To: to}, nil
		},
	}
}

// A hidden lib output of an earlier phase is reachable by explicit read
// from another package, but never shows up in globs.
func TestHiddenOutput_ExplicitReadOnly(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"b|lib/b.txt":    "b",
		"web/can.probe":  "package:b/b.txt.copy",
		"web/list.globq": "b|lib/**",
	})

	hiddenCopy := testutil.CopyApp("copy", ".txt", ".txt.copy")
	hiddenCopy.HideOutput = true

	outcome := p.Build([]*phase.BuilderApplication{
		hiddenCopy,
		probeApp("probe", ".probe", ".probe.out"),
		globApp("lister", ".globq", ".globq.out"),
	}, nil, nil)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	probe, ok := p.Read("web/can.probe.out")
	require.True(t, ok)
	assert.Equal(t, "true", probe, "the explicit reader must see the hidden lib output")

	listing, ok := p.Read("web/list.globq.out")
	require.True(t, ok)
	assert.Equal(t, "b|lib/b.txt", listing, "globs must not surface hidden outputs")
}

// Private assets of another package are not readable.
func TestPrivateAssetsInvisibleAcrossPackages(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"b|web/secret.txt": "secret",
		"b|lib/open.txt":   "open",
		"web/priv.probe":   "b|web/secret.txt",
		"web/pub.probe":    "b|lib/open.txt",
	})

	outcome := p.Build([]*phase.BuilderApplication{
		probeApp("probe", ".probe", ".probe.out"),
	}, nil, nil)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	priv, _ := p.Read("web/priv.probe.out")
	assert.Equal(t, "false", priv, "private cross-package reads must fail")

	pub, _ := p.Read("web/pub.probe.out")
	assert.Equal(t, "true", pub, "lib assets are public across packages")
}

// additional_public_assets globs widen a package's public surface.
func TestAdditionalPublicAssets(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"b|assets/logo.txt": "logo",
		"web/logo.probe":    "b|assets/logo.txt",
	})
	p.WriteSource("b|build.hcl", `additional_public_assets = ["assets/**"]`)

	outcome := p.Build([]*phase.BuilderApplication{
		probeApp("probe", ".probe", ".probe.out"),
	}, nil, nil)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	probe, _ := p.Read("web/logo.probe.out")
	assert.Equal(t, "true", probe)
}

// A glob sees generated outputs only from phases before the requesting one.
func TestGlobSeesOnlyEarlierPhases(t *testing.T) {
	p := testutil.NewProject(t, map[string]string{
		"web/a.txt":    "a",
		"web/q.globq":  "web/**.made",
		"web/z.globq2": "web/**.made",
	})

	outcome := p.Build([]*phase.BuilderApplication{
		globApp("early", ".globq", ".globq.out"),
		testutil.CopyApp("maker", ".txt", ".txt.made"),
		globApp("late", ".globq2", ".globq2.out"),
	}, nil, nil)

	require.NoError(t, outcome.Err)
	require.True(t, outcome.Result.Succeeded)

	early, _ := p.Read("web/q.globq.out")
	assert.Equal(t, "", early, "a glob at phase 1 must not see phase 2 outputs")

	late, _ := p.Read("web/z.globq2.out")
	assert.Equal(t, "a|web/a.txt.made", late, "a glob at phase 3 sees phase 2 outputs")
}
