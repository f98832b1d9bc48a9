package phase

import (
	"context"
	"fmt"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/buildcfg"
	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/fsutil"
	"github.com/vk/assetforge/internal/pkggraph"
)

// InputSet is an include/exclude glob filter over package-relative paths.
type InputSet struct {
	Include []string
	Exclude []string
}

// Matches applies the filter; an empty include list admits everything.
func (s InputSet) Matches(path string) bool {
	return len(fsutil.FilterPaths([]string{path}, s.Include, s.Exclude)) == 1
}

// BuilderApplication declares one builder slot in the ordered phase list, as
// registered by the build script.
type BuilderApplication struct {
	// Key identifies the application, e.g. "copy" or "my_pkg|minify".
	Key string
	// Factory instantiates the builder with per-package options.
	Factory builder.Factory
	// GenerateFor is the default input filter; per-package build
	// configuration can narrow it further.
	GenerateFor InputSet
	// TargetPackages limits the packages the builder applies to; empty
	// means every package in the graph.
	TargetPackages []string
	// IsOptional defers the builder until some later step demands one of
	// its outputs.
	IsOptional bool
	// HideOutput directs outputs into the per-package cache subtree.
	HideOutput bool
}

// PostBuilderApplication declares one post-process action run after all
// in-build phases.
type PostBuilderApplication struct {
	Key     string
	Builder builder.PostProcessBuilder
}

// PackageAction is one builder application bound to one package.
type PackageAction struct {
	Builder     builder.Builder
	GenerateFor InputSet
	extensions  *buildExtensions
}

// InBuildPhase is a compiled builder application with its per-package
// instances.
type InBuildPhase struct {
	Number     int
	Key        string
	IsOptional bool
	HideOutput bool

	perPackage map[string]*PackageAction
}

// For returns the action bound to a package, or nil when the phase does not
// apply there.
func (p *InBuildPhase) For(pkg string) *PackageAction {
	return p.perPackage[pkg]
}

// Matches reports whether the phase would run on the given input in its
// package.
func (p *InBuildPhase) Matches(id assetid.ID) bool {
	action := p.perPackage[id.Package]
	if action == nil {
		return false
	}
	return action.GenerateFor.Matches(id.Path) && action.extensions.matches(id.Path)
}

// ExpectedOutputs derives the declared output IDs for an input, or nil when
// the phase does not apply.
func (p *InBuildPhase) ExpectedOutputs(id assetid.ID) []assetid.ID {
	if !p.Matches(id) {
		return nil
	}
	return p.perPackage[id.Package].extensions.expectedOutputs(id)
}

// PostAction is one compiled post-process action.
type PostAction struct {
	Key        string
	Builder    builder.PostProcessBuilder
	extensions []extension
}

// Matches reports whether the action applies to the path.
func (a *PostAction) Matches(path string) bool {
	for _, e := range a.extensions {
		if _, ok := e.match(path); ok {
			return true
		}
	}
	return false
}

// PostBuildPhase groups all post-process actions under one phase number.
type PostBuildPhase struct {
	Number  int
	Actions []*PostAction
}

// Phases is the compiled, ordered phase list of one build.
type Phases struct {
	InBuild []*InBuildPhase
	Post    *PostBuildPhase
}

// ByNumber returns the in-build phase with the given number, or nil.
func (p *Phases) ByNumber(n int) *InBuildPhase {
	for _, ph := range p.InBuild {
		if ph.Number == n {
			return ph
		}
	}
	return nil
}

// Plan compiles the ordered builder applications against the package graph
// and the per-package build configuration. Factory failures and extension
// conflicts surface here, before any step runs.
func Plan(ctx context.Context, apps []*BuilderApplication, post []*PostBuilderApplication, pkgs *pkggraph.Graph, cfgs map[string]*buildcfg.Config) (*Phases, error) {
	logger := ctxlog.FromContext(ctx)
	phases := &Phases{}

	for i, app := range apps {
		ph := &InBuildPhase{
			Number:     i + 1,
			Key:        app.Key,
			IsOptional: app.IsOptional,
			HideOutput: app.HideOutput,
			perPackage: map[string]*PackageAction{},
		}

		for _, pkg := range targetPackages(app, pkgs) {
			cfg := cfgs[pkg].Builder(app.Key)
			if cfg.Enabled != nil && !*cfg.Enabled {
				logger.Debug("Builder disabled by package configuration.", "builder", app.Key, "package", pkg)
				continue
			}

			b, err := app.Factory(builder.NewOptions(cfg.Options))
			if err != nil {
				return nil, &builder.CannotBuildError{
					Reason: fmt.Sprintf("builder factory %q failed for package %q", app.Key, pkg),
					Err:    err,
				}
			}

			exts, err := compileExtensions(app.Key, b.BuildExtensions())
			if err != nil {
				return nil, err
			}

			generateFor := app.GenerateFor
			if len(cfg.GenerateFor) > 0 || len(cfg.ExcludeFor) > 0 {
				generateFor = InputSet{Include: cfg.GenerateFor, Exclude: cfg.ExcludeFor}
			}

			ph.perPackage[pkg] = &PackageAction{
				Builder:     b,
				GenerateFor: generateFor,
				extensions:  exts,
			}
		}

		phases.InBuild = append(phases.InBuild, ph)
		logger.Debug("Compiled build phase.", "phase", ph.Number, "builder", app.Key, "packages", len(ph.perPackage), "optional", ph.IsOptional, "hidden", ph.HideOutput)
	}

	if len(post) > 0 {
		pb := &PostBuildPhase{Number: len(apps) + 1}
		for _, app := range post {
			var exts []extension
			for _, raw := range app.Builder.InputExtensions() {
				e, err := parseExtension(raw)
				if err != nil {
					return nil, &builder.CannotBuildError{Reason: fmt.Sprintf("post-process builder %q: %v", app.Key, err)}
				}
				exts = append(exts, e)
			}
			pb.Actions = append(pb.Actions, &PostAction{Key: app.Key, Builder: app.Builder, extensions: exts})
		}
		phases.Post = pb
	}

	return phases, nil
}

func targetPackages(app *BuilderApplication, pkgs *pkggraph.Graph) []string {
	if len(app.TargetPackages) == 0 {
		return pkgs.Names()
	}
	var out []string
	for _, name := range app.TargetPackages {
		if pkgs.Contains(name) {
			out = append(out, name)
		}
	}
	return out
}
