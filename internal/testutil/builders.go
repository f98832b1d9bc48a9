package testutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/phase"
)

// CopyBuilder copies its primary input to every declared output, optionally
// prefixing the content.
type CopyBuilder struct {
	Exts   map[string][]string
	Prefix string
}

func (b *CopyBuilder) BuildExtensions() map[string][]string {
	return b.Exts
}

func (b *CopyBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	content, err := step.ReadAsString(ctx, step.InputID())
	if err != nil {
		return err
	}
	for _, out := range step.AllowedOutputs() {
		if err := step.WriteAsString(out, b.Prefix+content); err != nil {
			return err
		}
	}
	return nil
}

// CopyApp wraps a single-extension CopyBuilder into a builder application.
func CopyApp(key, from, to string) *phase.BuilderApplication {
	return MultiCopyApp(key, map[string][]string{from: {to}})
}

// MultiCopyApp wraps a CopyBuilder with several input extensions.
func MultiCopyApp(key string, exts map[string][]string) *phase.BuilderApplication {
	return &phase.BuilderApplication{
		Key: key,
		Factory: func(opts *builder.Options) (builder.Builder, error) {
			return &CopyBuilder{Exts: exts, Prefix: opts.String("prefix", "")}, nil
		},
	}
}

// FailingBuilder always fails its step.
type FailingBuilder struct {
	From string
	To   string
}

func (b *FailingBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{b.From: {b.To}}
}

func (b *FailingBuilder) Build(context.Context, builder.BuildStep) error {
	return fmt.Errorf("handler failed as expected")
}

// FailingApp wraps a FailingBuilder into a builder application.
func FailingApp(key, from, to string) *phase.BuilderApplication {
	return &phase.BuilderApplication{
		Key: key,
		Factory: func(*builder.Options) (builder.Builder, error) {
			return &FailingBuilder{From: from, To: to}, nil
		},
	}
}

// OverdeclareBuilder declares several outputs but writes only those listed
// in Write, leaving the rest overdeclared.
type OverdeclareBuilder struct {
	From    string
	Declare []string
	Write   map[string]bool
}

func (b *OverdeclareBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{b.From: b.Declare}
}

func (b *OverdeclareBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	content, err := step.ReadAsString(ctx, step.InputID())
	if err != nil {
		return err
	}
	for _, out := range step.AllowedOutputs() {
		for ext, write := range b.Write {
			if write && strings.HasSuffix(out.Path, ext) {
				if err := step.WriteAsString(out, content); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// OverdeclareApp wraps an OverdeclareBuilder into a builder application.
// write lists the output extensions that are actually written; the rest
// stay overdeclared.
func OverdeclareApp(key, from string, declare []string, write []string) *phase.BuilderApplication {
	writeSet := map[string]bool{}
	for _, w := range write {
		writeSet[w] = true
	}
	return &phase.BuilderApplication{
		Key: key,
		Factory: func(*builder.Options) (builder.Builder, error) {
			return &OverdeclareBuilder{From: from, Declare: declare, Write: writeSet}, nil
		},
	}
}

// SideReadBuilder copies its primary input, additionally reading sibling
// assets (primary path + suffix) and reporting some of them unused.
type SideReadBuilder struct {
	From         string
	To           string
	ReadSuffixes []string
	UnusedSuffix []string
}

func (b *SideReadBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{b.From: {b.To}}
}

func (b *SideReadBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	content, err := step.ReadAsString(ctx, step.InputID())
	if err != nil {
		return err
	}
	var extras []string
	for _, suffix := range b.ReadSuffixes {
		sibling := assetid.New(step.InputID().Package, step.InputID().Path+suffix)
		if step.CanRead(ctx, sibling) {
			extra, err := step.ReadAsString(ctx, sibling)
			if err != nil {
				return err
			}
			extras = append(extras, extra)
		}
	}
	var unused []assetid.ID
	for _, suffix := range b.UnusedSuffix {
		unused = append(unused, assetid.New(step.InputID().Package, step.InputID().Path+suffix))
	}
	step.ReportUnusedAssets(unused...)

	return step.WriteAsString(step.AllowedOutputs()[0], content+strings.Join(extras, ""))
}

// ConstBuilder writes fixed content regardless of its input, which makes
// early-cutoff behavior observable.
type ConstBuilder struct {
	From    string
	To      string
	Content string
}

func (b *ConstBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{b.From: {b.To}}
}

func (b *ConstBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	if _, err := step.ReadAsBytes(ctx, step.InputID()); err != nil {
		return err
	}
	return step.WriteAsString(step.AllowedOutputs()[0], b.Content)
}

// ConstApp wraps a ConstBuilder into a builder application.
func ConstApp(key, from, to, content string) *phase.BuilderApplication {
	return &phase.BuilderApplication{
		Key: key,
		Factory: func(*builder.Options) (builder.Builder, error) {
			return &ConstBuilder{From: from, To: to, Content: content}, nil
		},
	}
}

// SideReadFactory wraps a SideReadBuilder into a builder factory.
func SideReadFactory(from, to string, reads, unused []string) builder.Factory {
	return func(*builder.Options) (builder.Builder, error) {
		return &SideReadBuilder{From: from, To: to, ReadSuffixes: reads, UnusedSuffix: unused}, nil
	}
}

// ProbeBuilder writes "true" or "false" depending on whether the asset
// referenced by its primary input's content is readable.
type ProbeBuilder struct {
	From string
	To   string
}

func (b *ProbeBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{b.From: {b.To}}
}

func (b *ProbeBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	ref, err := step.ReadAsString(ctx, step.InputID())
	if err != nil {
		return err
	}
	target, _, err := assetid.Parse(strings.TrimSpace(ref))
	if err != nil {
		return err
	}
	return step.WriteAsString(step.AllowedOutputs()[0], fmt.Sprintf("%t", step.CanRead(ctx, target)))
}

// GlobBuilder treats its primary input's content as a glob pattern and
// writes the sorted match set, one asset reference per line.
type GlobBuilder struct {
	From string
	To   string
}

func (b *GlobBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{b.From: {b.To}}
}

func (b *GlobBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	raw, err := step.ReadAsString(ctx, step.InputID())
	if err != nil {
		return err
	}
	// The input is either "<pattern>" for the step's own package or
	// "<pkg>|<pattern>".
	pkg, pattern := "", strings.TrimSpace(raw)
	if p, rest, ok := strings.Cut(pattern, "|"); ok {
		pkg, pattern = p, rest
	}
	matches, err := step.FindAssets(ctx, pattern, pkg)
	if err != nil {
		return err
	}
	var lines []string
	for _, m := range matches {
		lines = append(lines, m.String())
	}
	return step.WriteAsString(step.AllowedOutputs()[0], strings.Join(lines, "\n"))
}

// SelfReadBuilder reads its own declared output before writing it, which
// must look like a missing asset and leave no self-edge behind.
type SelfReadBuilder struct {
	From string
	To   string
}

func (b *SelfReadBuilder) BuildExtensions() map[string][]string {
	return map[string][]string{b.From: {b.To}}
}

func (b *SelfReadBuilder) Build(ctx context.Context, step builder.BuildStep) error {
	out := step.AllowedOutputs()[0]
	if step.CanRead(ctx, out) {
		return fmt.Errorf("own unwritten output %s must not be readable", out.String())
	}
	content, err := step.ReadAsString(ctx, step.InputID())
	if err != nil {
		return err
	}
	if err := step.WriteAsString(out, content); err != nil {
		return err
	}
	// After the write, the step sees its own bytes back.
	echoed, err := step.ReadAsString(ctx, out)
	if err != nil {
		return err
	}
	if echoed != content {
		return fmt.Errorf("read-your-writes violated for %s", out.String())
	}
	return nil
}

// TouchPostProcess is a post-process action writing one hidden marker per
// matching input.
type TouchPostProcess struct {
	Ext    string
	Marker string
}

func (b *TouchPostProcess) InputExtensions() []string { return []string{b.Ext} }

func (b *TouchPostProcess) Build(ctx context.Context, step builder.BuildStep) error {
	content, err := step.ReadAsString(ctx, step.InputID())
	if err != nil {
		return err
	}
	out := assetid.New(step.InputID().Package, step.InputID().Path+b.Marker)
	return step.WriteAsString(out, content)
}
