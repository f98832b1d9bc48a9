// Package app wires the engine together: package graph and build
// configuration loading, phase planning, the incremental build loop, and
// the serve/watch drivers around it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/assetforge/internal/buildcfg"
	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/graph"
	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/pkggraph"
	"github.com/vk/assetforge/internal/rw"
)

// App encapsulates the engine's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	pkgs    *pkggraph.Graph
	cfgs    map[string]*buildcfg.Config
	cfgRaw  map[string][]byte
	fs      *rw.Filesystem
	phases  *phase.Phases
	apps    []*phase.BuilderApplication
	post    []*phase.PostBuilderApplication
	current *graph.Graph
}

// New constructs a fully initialized App: configuration loaded, phases
// compiled and validated. Configuration problems surface here, before any
// build runs.
func New(outW io.Writer, cfg *Config, apps []*phase.BuilderApplication, post []*phase.PostBuilderApplication) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	if cfg.Verbose {
		logger = newLogger("debug", cfg.LogFormat, outW)
	}
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	pkgs, err := loadPackageGraph(cfg.WorkingDir)
	if err != nil {
		return nil, err
	}
	logger.Debug("Package graph loaded.", "root", pkgs.Root, "packages", len(pkgs.Names()))

	cfgs := map[string]*buildcfg.Config{}
	cfgRaw := map[string][]byte{}
	for _, name := range pkgs.Names() {
		pkg := pkgs.Package(name)
		pkgCfg, raw, err := buildcfg.Load(ctx, pkg.Root)
		if err != nil {
			return nil, err
		}
		cfgs[name] = pkgCfg
		cfgRaw[name] = raw
		// additional_public_assets declared in build.hcl widen the package's
		// public surface.
		pkg.AdditionalPublicAssets = append(pkg.AdditionalPublicAssets, pkgCfg.AdditionalPublicAssets...)
	}

	fs, err := rw.NewFilesystem(pkgs)
	if err != nil {
		return nil, err
	}

	phases, err := phase.Plan(ctx, apps, post, pkgs, cfgs)
	if err != nil {
		return nil, err
	}
	logger.Debug("Build phases compiled.", "inBuild", len(phases.InBuild), "hasPost", phases.Post != nil)

	return &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		pkgs:   pkgs,
		cfgs:   cfgs,
		cfgRaw: cfgRaw,
		fs:     fs,
		phases: phases,
		apps:   apps,
		post:   post,
	}, nil
}

// Logger returns the app's logger, primarily for the CLI and tests.
func (a *App) Logger() *slog.Logger { return a.logger }

// Packages returns the loaded package graph.
func (a *App) Packages() *pkggraph.Graph { return a.pkgs }

// Filesystem returns the engine filesystem, primarily for serve mode and
// tests.
func (a *App) Filesystem() *rw.Filesystem { return a.fs }

// Graph returns the asset graph of the most recent build.
func (a *App) Graph() *graph.Graph { return a.current }

// scriptIdentity folds the registered builder set into one stable byte
// string; changing the builders (or the graph format) forces a full
// rebuild.
func (a *App) scriptIdentity() []byte {
	keys := make([]string, 0, len(a.apps)+len(a.post))
	for i, app := range a.apps {
		optional := ""
		if app.IsOptional {
			optional = ":optional"
		}
		hidden := ""
		if app.HideOutput {
			hidden = ":hidden"
		}
		keys = append(keys, fmt.Sprintf("%d:%s%s%s", i, app.Key, optional, hidden))
	}
	for _, p := range a.post {
		keys = append(keys, "post:"+p.Key)
	}
	sort.Strings(keys)
	return []byte(fmt.Sprintf("v%d|%s", graph.Version, strings.Join(keys, ",")))
}

// loadPackageGraph reads packages.yaml from the working directory, falling
// back to a single-package graph named after the directory.
func loadPackageGraph(dir string) (*pkggraph.Graph, error) {
	cfgPath := filepath.Join(dir, pkggraph.ConfigFileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return pkggraph.Load(cfgPath)
	}
	name := sanitizePackageName(filepath.Base(dir))
	return pkggraph.SinglePackage(name, dir)
}

func sanitizePackageName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "root"
	}
	return b.String()
}
