package buildcfg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

const sampleConfig = `
target "default" {
  sources = ["lib/**", "web/**"]
  exclude = ["lib/generated/**"]
}

builder "copy" {
  generate_for = ["web/**"]

  options {
    header  = "// generated"
    enabled = true
  }
}

builder "minify" {
  enabled = false
}

additional_public_assets = ["assets/**"]
`

func TestParse(t *testing.T) {
	cfg, err := Parse(context.Background(), []byte(sampleConfig), "build.hcl")
	require.NoError(t, err)

	assert.Equal(t, []string{"lib/**", "web/**"}, cfg.Sources)
	assert.Equal(t, []string{"lib/generated/**"}, cfg.ExcludeSources)
	assert.Equal(t, []string{"assets/**"}, cfg.AdditionalPublicAssets)

	copyCfg := cfg.Builder("copy")
	assert.Equal(t, []string{"web/**"}, copyCfg.GenerateFor)
	header, ok := copyCfg.Options["header"]
	require.True(t, ok)
	assert.Equal(t, cty.StringVal("// generated"), header)
	enabled, ok := copyCfg.Options["enabled"]
	require.True(t, ok)
	assert.Equal(t, cty.True, enabled)

	minify := cfg.Builder("minify")
	require.NotNil(t, minify.Enabled)
	assert.False(t, *minify.Enabled)

	// Unknown builders fall back to empty settings.
	assert.Empty(t, cfg.Builder("ghost").GenerateFor)
}

func TestParseRejectsDuplicateBuilderBlocks(t *testing.T) {
	dup := `
builder "copy" {}
builder "copy" {}
`
	_, err := Parse(context.Background(), []byte(dup), "build.hcl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate builder block")
}

func TestParseRejectsMalformedGlob(t *testing.T) {
	bad := `
target "default" {
  sources = ["web/[broken"]
}
`
	_, err := Parse(context.Background(), []byte(bad), "build.hcl")
	require.Error(t, err)
}

func TestParseRejectsInvalidSyntax(t *testing.T) {
	_, err := Parse(context.Background(), []byte(`target "default" {`), "build.hcl")
	require.Error(t, err)
}
