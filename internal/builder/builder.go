package builder

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/assetforge/internal/assetid"
)

// Builder is a transformation from one primary input to zero or more outputs
// with deterministically derived paths.
type Builder interface {
	// BuildExtensions maps an input extension pattern to the list of output
	// extension templates derived from it. Patterns may carry a single "{{}}"
	// capture group, or a "^" prefix meaning the match is root-relative.
	BuildExtensions() map[string][]string

	// Build runs the transformation for the step's primary input.
	Build(ctx context.Context, step BuildStep) error
}

// PostProcessBuilder runs after all in-build phases for each matching input.
// Its outputs are always hidden and are owned by a per-(input, action)
// anchor node.
type PostProcessBuilder interface {
	// InputExtensions lists the input extensions the post-process action
	// applies to.
	InputExtensions() []string

	// Build runs the post-process action.
	Build(ctx context.Context, step BuildStep) error
}

// Factory instantiates a Builder from per-package options. A factory that
// fails makes the whole build unrunnable before any step executes.
type Factory func(opts *Options) (Builder, error)

// BuildStep is the per-invocation capability through which a builder reads
// inputs, stages outputs, and declares discovered dependencies. Every read
// (including a negative CanRead) records the asset as an input of the step.
type BuildStep interface {
	// InputID is the primary input that caused this builder to run.
	InputID() assetid.ID

	// AllowedOutputs lists the output assets this step may write, derived
	// from the builder's build extensions applied to the primary input.
	AllowedOutputs() []assetid.ID

	// ReadAsBytes returns the asset's content. Missing assets yield an
	// AssetNotFoundError; assets outside the step's visibility yield an
	// InvalidInputError.
	ReadAsBytes(ctx context.Context, id assetid.ID) ([]byte, error)

	// ReadAsString is ReadAsBytes with a UTF-8 string result.
	ReadAsString(ctx context.Context, id assetid.ID) (string, error)

	// CanRead reports whether the asset exists and is visible to this step.
	// The answer is memoized for the remainder of the step.
	CanRead(ctx context.Context, id assetid.ID) bool

	// WriteAsBytes stages content for one of the step's allowed outputs. The
	// physical file appears only after the step commits successfully.
	WriteAsBytes(id assetid.ID, content []byte) error

	// WriteAsString is WriteAsBytes for string content.
	WriteAsString(id assetid.ID, content string) error

	// FindAssets lists assets matching the glob within the given package
	// (the step's own package when pkg is empty), seeing only sources and
	// outputs of earlier phases. The resolved glob is recorded as an input
	// of this step.
	FindAssets(ctx context.Context, glob string, pkg string) ([]assetid.ID, error)

	// ReportUnusedAssets declares that the given assets, though read, do not
	// affect this step's outputs. They are dropped from the recorded inputs
	// when the step commits. Existence of the primary input is still
	// observed even when it is reported unused.
	ReportUnusedAssets(ids ...assetid.ID)

	// Resolver exposes the opaque semantic-analysis capability. The engine
	// does not interpret it.
	Resolver() Resolver
}

// Resolver is an opaque capability offered to builders that need
// source-language semantic queries. Implementations live outside the engine.
type Resolver interface {
	// LibraryFor resolves the asset containing the library that id belongs
	// to, if the resolver understands the source language.
	LibraryFor(ctx context.Context, id assetid.ID) (assetid.ID, error)
}

// Options carries per-package builder options decoded from build
// configuration. Values are cty values so option shapes stay open.
type Options struct {
	values map[string]cty.Value
}

// NewOptions wraps decoded option values. A nil map yields empty options.
func NewOptions(values map[string]cty.Value) *Options {
	if values == nil {
		values = map[string]cty.Value{}
	}
	return &Options{values: values}
}

// String returns a string option, or fallback when absent or not a string.
func (o *Options) String(name, fallback string) string {
	v, ok := o.values[name]
	if !ok || v.IsNull() || v.Type() != cty.String {
		return fallback
	}
	return v.AsString()
}

// Bool returns a bool option, or fallback when absent or not a bool.
func (o *Options) Bool(name string, fallback bool) bool {
	v, ok := o.values[name]
	if !ok || v.IsNull() || v.Type() != cty.Bool {
		return fallback
	}
	return v.True()
}

// Value returns the raw cty value of an option.
func (o *Options) Value(name string) (cty.Value, bool) {
	v, ok := o.values[name]
	return v, ok
}
