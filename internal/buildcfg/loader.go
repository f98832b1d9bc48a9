package buildcfg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/fsutil"
)

// fileRoot is the top-level shape of a build.hcl file.
type fileRoot struct {
	Target   *targetBlock    `hcl:"target,block"`
	Builders []*builderBlock `hcl:"builder,block"`
	Public   []string        `hcl:"additional_public_assets,optional"`
	Remain   hcl.Body        `hcl:",remain"`
}

type targetBlock struct {
	Name    string   `hcl:"name,label"`
	Sources []string `hcl:"sources,optional"`
	Exclude []string `hcl:"exclude,optional"`
}

type builderBlock struct {
	Key         string   `hcl:"key,label"`
	GenerateFor []string `hcl:"generate_for,optional"`
	ExcludeFor  []string `hcl:"exclude_for,optional"`
	Enabled     *bool    `hcl:"enabled,optional"`
	Remain      hcl.Body `hcl:",remain"`
}

// Load reads and decodes the build.hcl in pkgRoot. A missing file yields an
// empty Config and no error; a malformed file is a configuration error.
func Load(ctx context.Context, pkgRoot string) (*Config, []byte, error) {
	logger := ctxlog.FromContext(ctx)
	path := filepath.Join(pkgRoot, FileName)

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("No build configuration present.", "path", path)
		return &Config{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read build configuration %s: %w", path, err)
	}

	cfg, err := Parse(ctx, raw, path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, raw, nil
}

// Parse decodes build configuration bytes. filename is used in diagnostics.
func Parse(ctx context.Context, raw []byte, filename string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(raw, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse build configuration %s: %w", filename, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode build configuration %s: %w", filename, diags)
	}

	cfg := &Config{
		Builders:               map[string]*BuilderConfig{},
		AdditionalPublicAssets: root.Public,
	}
	if root.Target != nil {
		cfg.Sources = root.Target.Sources
		cfg.ExcludeSources = root.Target.Exclude
	}

	for _, b := range root.Builders {
		if _, dup := cfg.Builders[b.Key]; dup {
			return nil, fmt.Errorf("build configuration %s: duplicate builder block %q", filename, b.Key)
		}
		options, err := decodeOptions(b.Remain)
		if err != nil {
			return nil, fmt.Errorf("build configuration %s, builder %q: %w", filename, b.Key, err)
		}
		cfg.Builders[b.Key] = &BuilderConfig{
			GenerateFor: b.GenerateFor,
			ExcludeFor:  b.ExcludeFor,
			Enabled:     b.Enabled,
			Options:     options,
		}
	}

	if err := validateGlobs(cfg); err != nil {
		return nil, fmt.Errorf("build configuration %s: %w", filename, err)
	}

	logger.Debug("Build configuration decoded.", "file", filename, "builders", len(cfg.Builders))
	return cfg, nil
}

// decodeOptions extracts the free-form options block of a builder as cty
// values.
func decodeOptions(body hcl.Body) (map[string]cty.Value, error) {
	content, _, diags := body.PartialContent(&hcl.BodySchema{
		Blocks: []hcl.BlockHeaderSchema{{Type: "options"}},
	})
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid builder block: %w", diags)
	}

	options := map[string]cty.Value{}
	for _, block := range content.Blocks {
		attrs, diags := block.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, fmt.Errorf("invalid options block: %w", diags)
		}
		for name, attr := range attrs {
			val, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("invalid option %q: %w", name, diags)
			}
			options[name] = val
		}
	}
	return options, nil
}

func validateGlobs(cfg *Config) error {
	check := func(kind string, globs []string) error {
		for _, g := range globs {
			if err := fsutil.ValidateGlob(g); err != nil {
				return fmt.Errorf("invalid %s glob %q: %w", kind, g, err)
			}
		}
		return nil
	}
	if err := check("sources", cfg.Sources); err != nil {
		return err
	}
	if err := check("exclude", cfg.ExcludeSources); err != nil {
		return err
	}
	if err := check("additional_public_assets", cfg.AdditionalPublicAssets); err != nil {
		return err
	}
	for key, bc := range cfg.Builders {
		if err := check("generate_for ("+key+")", bc.GenerateFor); err != nil {
			return err
		}
		if err := check("exclude_for ("+key+")", bc.ExcludeFor); err != nil {
			return err
		}
	}
	return nil
}
