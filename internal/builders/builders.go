// Package builders holds the built-in builder set the assetforge CLI ships
// with. Real projects compile their own builders in through the app API;
// the built-ins cover the common copy/template cases and serve as worked
// examples.
package builders

import (
	"context"
	"strings"

	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/phase"
)

// copyBuilder copies each matching input to one derived output, optionally
// wrapping the content.
type copyBuilder struct {
	from   string
	to     string
	prefix string
	suffix string
}

func (b *copyBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{b.from: {b.to}}
}

func (b *copyBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	content, err := step.ReadAsString(ctx, step.InputID())
	if err != nil {
		return err
	}
	for _, out := range step.AllowedOutputs() {
		if err := step.WriteAsString(out, b.prefix+content+b.suffix); err != nil {
			return err
		}
	}
	return nil
}

// Copy returns the built-in copy builder application. Its extensions and
// wrapping are configured per package through builder options:
//
//	builder "copy" {
//	  options {
//	    input_extension  = ".txt"
//	    output_extension = ".txt.copy"
//	  }
//	}
func Copy() *phase.BuilderApplication {
	return &phase.BuilderApplication{
		Key: "copy",
		Factory: func(opts *builder.Options) (builder.Builder, error) {
			return &copyBuilder{
				from:   opts.String("input_extension", ".txt"),
				to:     opts.String("output_extension", ".txt.copy"),
				prefix: opts.String("prefix", ""),
				suffix: opts.String("suffix", ""),
			}, nil
		},
	}
}

// concatBuilder joins every asset matching a glob into one output, in
// stable order.
type concatBuilder struct {
	glob      string
	separator string
}

func (b *concatBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{".concat": {".concat.out"}}
}

func (b *concatBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	pattern := b.glob
	if pattern == "" {
		raw, err := step.ReadAsString(ctx, step.InputID())
		if err != nil {
			return err
		}
		pattern = strings.TrimSpace(raw)
	}
	matches, err := step.FindAssets(ctx, pattern, "")
	if err != nil {
		return err
	}
	var parts []string
	for _, id := range matches {
		content, err := step.ReadAsString(ctx, id)
		if err != nil {
			return err
		}
		parts = append(parts, content)
	}
	return step.WriteAsString(step.AllowedOutputs()[0], strings.Join(parts, b.separator))
}

// Concat returns the built-in concatenation builder: a .concat file holds a
// glob pattern, and the output joins every match.
func Concat() *phase.BuilderApplication {
	return &phase.BuilderApplication{
		Key: "concat",
		Factory: func(opts *builder.Options) (builder.Builder, error) {
			return &concatBuilder{
				glob:      opts.String("glob", ""),
				separator: opts.String("separator", "\n"),
			}, nil
		},
	}
}

// Defaults is the builder set the CLI registers when the caller supplies
// none of its own.
func Defaults() []*phase.BuilderApplication {
	return []*phase.BuilderApplication{Copy(), Concat()}
}
