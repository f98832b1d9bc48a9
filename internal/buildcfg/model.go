package buildcfg

import "github.com/zclconf/go-cty/cty"

// FileName is the per-package build configuration file name.
const FileName = "build.hcl"

// Config is the decoded build configuration of one package. The zero value
// is a valid "no configuration" state.
type Config struct {
	// Sources is the include glob set of the default target; empty means
	// every file in the package.
	Sources []string
	// ExcludeSources is the exclude glob set of the default target.
	ExcludeSources []string
	// Builders holds per-builder overrides keyed by builder key.
	Builders map[string]*BuilderConfig
	// AdditionalPublicAssets exposes non-lib assets to other packages.
	AdditionalPublicAssets []string
}

// BuilderConfig carries the per-package settings of one builder application.
type BuilderConfig struct {
	// GenerateFor narrows the inputs the builder runs on within this
	// package; empty means the phase default applies.
	GenerateFor []string
	// ExcludeFor removes inputs from GenerateFor.
	ExcludeFor []string
	// Enabled can switch a builder off for this package.
	Enabled *bool
	// Options holds free-form builder options handed to the factory.
	Options map[string]cty.Value
}

// Builder returns the settings for a builder key, never nil.
func (c *Config) Builder(key string) *BuilderConfig {
	if c == nil || c.Builders == nil {
		return &BuilderConfig{}
	}
	if bc, ok := c.Builders[key]; ok {
		return bc
	}
	return &BuilderConfig{}
}
