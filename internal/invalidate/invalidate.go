// Package invalidate implements the start-of-build reconciliation between
// the persisted asset graph and the world: rescanning sources, detecting
// configuration changes that force a full rebuild, rechecking glob match
// sets, and marking affected generated nodes dirty.
package invalidate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/buildcfg"
	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/digest"
	"github.com/vk/assetforge/internal/fsutil"
	"github.com/vk/assetforge/internal/graph"
	"github.com/vk/assetforge/internal/pkggraph"
	"github.com/vk/assetforge/internal/rw"
)

// Snapshot is the current world state gathered before a build: every source
// file with its mtime, plus the digests of the engine-owned internal
// inputs (package config, build configs, builder identity).
type Snapshot struct {
	Files     map[assetid.ID]time.Time
	Internals map[assetid.ID]digest.Digest
}

// ScanSources walks every package root and collects source files, honoring
// the per-package target include/exclude globs and skipping the engine's
// own dot directory.
func ScanSources(ctx context.Context, pkgs *pkggraph.Graph, cfgs map[string]*buildcfg.Config) (map[assetid.ID]time.Time, error) {
	logger := ctxlog.FromContext(ctx)
	files := map[assetid.ID]time.Time{}

	for _, name := range pkgs.Names() {
		pkg := pkgs.Package(name)
		paths, err := fsutil.ScanFiles(pkg.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package %q: %w", name, err)
		}

		cfg := cfgs[name]
		var include, exclude []string
		if cfg != nil {
			include, exclude = cfg.Sources, cfg.ExcludeSources
		}
		paths = fsutil.FilterPaths(paths, include, exclude)

		for _, p := range paths {
			if p == buildcfg.FileName || p == pkggraph.ConfigFileName {
				continue
			}
			id := assetid.New(name, p)
			info, err := os.Stat(mustSourcePath(pkgs, id))
			if err != nil {
				continue
			}
			files[id] = info.ModTime()
		}
		logger.Debug("Scanned package sources.", "package", name, "files", len(paths))
	}
	return files, nil
}

// InternalInputs digests the engine-owned inputs whose change forces a full
// rebuild: the package configuration, every package's build configuration,
// and the identity of the builder set itself.
func InternalInputs(pkgs *pkggraph.Graph, buildCfgRaw map[string][]byte, scriptIdentity []byte) map[assetid.ID]digest.Digest {
	internals := map[assetid.ID]digest.Digest{}

	pkgCfgID := assetid.New(pkgs.Root, pkggraph.ConfigFileName)
	pkgCfgBytes := []byte{}
	if root := pkgs.Package(pkgs.Root); root != nil {
		if raw, err := os.ReadFile(mustSourcePath(pkgs, pkgCfgID)); err == nil {
			pkgCfgBytes = raw
		}
	}
	internals[pkgCfgID] = digest.Compute(pkgCfgID, pkgCfgBytes)

	for _, name := range pkgs.Names() {
		id := assetid.New(name, buildcfg.FileName)
		internals[id] = digest.Compute(id, buildCfgRaw[name])
	}

	scriptID := assetid.New(pkgs.Root, "$builders$")
	internals[scriptID] = digest.Compute(scriptID, scriptIdentity)
	return internals
}

// BuildInitialGraph constructs the graph of a from-scratch build: all
// scanned sources digested, internal nodes, and the package placeholders.
func BuildInitialGraph(ctx context.Context, fs *rw.Filesystem, pkgs *pkggraph.Graph, snap *Snapshot) (*graph.Graph, error) {
	sources := map[assetid.ID]graph.SourceInfo{}
	for id, modTime := range snap.Files {
		content, err := fs.Read(id, false)
		if err != nil {
			// The file vanished between scan and digest; skip it, the next
			// build reconciles.
			ctxlog.FromContext(ctx).Warn("Source disappeared during scan.", "asset", id.String(), "error", err)
			continue
		}
		sources[id] = graph.SourceInfo{Digest: digest.Compute(id, content), ModTime: modTime}
	}
	return graph.Build(pkgs, sources, snap.Internals), nil
}

// Load reads the persisted graph from disk. A missing file, a decode
// failure, or a version mismatch all mean "no usable graph": the caller
// starts a full build.
func Load(ctx context.Context, fs *rw.Filesystem) *graph.Graph {
	logger := ctxlog.FromContext(ctx)
	raw, err := os.ReadFile(fs.GraphPath())
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read persisted asset graph.", "error", err)
		}
		return nil
	}
	g, err := graph.Deserialize(raw)
	if err != nil {
		logger.Info("Discarding persisted asset graph.", "reason", err)
		return nil
	}
	logger.Debug("Loaded persisted asset graph.", "nodes", g.Len())
	return g
}

// Save persists the graph next to the generated cache.
func Save(ctx context.Context, fs *rw.Filesystem, g *graph.Graph) error {
	raw, err := g.Serialize()
	if err != nil {
		return err
	}
	path := fs.GraphPath()
	if err := os.MkdirAll(fs.CacheRoot(), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Persisted asset graph.", "path", path, "nodes", g.Len())
	return nil
}

// Apply reconciles a loaded graph with the snapshot. It returns true when a
// full rebuild was forced: the generated state is dropped, the cache
// purged, and the caller should proceed as with a fresh graph.
func Apply(ctx context.Context, g *graph.Graph, fs *rw.Filesystem, snap *Snapshot) (bool, error) {
	logger := ctxlog.FromContext(ctx)

	if internalsChanged(g, snap.Internals) {
		logger.Info("Build configuration changed; forcing a full rebuild.")
		// The old graph still knows every committed output; remove them
		// from disk (and from the scan) before the knowledge is dropped,
		// or the rescan would resurrect them as conflicting sources.
		g.Nodes(func(n *graph.Node) {
			if n.Kind == graph.KindGenerated && n.Generated.WasOutput {
				if err := fs.Delete(n.ID, n.Generated.IsHidden); err != nil {
					logger.Warn("Failed to delete output during full rebuild.", "asset", n.ID.String(), "error", err)
				}
				delete(snap.Files, n.ID)
			}
			if n.Kind == graph.KindPostProcessAnchor {
				for out := range n.Anchor.Outputs {
					if err := fs.Delete(out, true); err != nil {
						logger.Warn("Failed to delete post-process output during full rebuild.", "asset", out.String(), "error", err)
					}
				}
			}
		})
		g.DropGenerated()
		if err := fs.PurgeGeneratedCache(); err != nil {
			return false, fmt.Errorf("failed to purge generated cache: %w", err)
		}
		for id, dg := range snap.Internals {
			g.Add(graph.NewInternalNode(id, dg))
		}
		reconcileAllSources(ctx, g, fs, snap)
		return true, nil
	}

	reconcileAllSources(ctx, g, fs, snap)
	recheckGlobs(ctx, g)
	recheckOutputsOnDisk(ctx, g, fs)
	return false, nil
}

func internalsChanged(g *graph.Graph, internals map[assetid.ID]digest.Digest) bool {
	known := map[assetid.ID]digest.Digest{}
	g.Nodes(func(n *graph.Node) {
		if n.Kind == graph.KindInternal {
			known[n.ID] = n.Digest
		}
	})
	if len(known) != len(internals) {
		return true
	}
	for id, dg := range internals {
		if known[id] != dg {
			return true
		}
	}
	return false
}

// reconcileAllSources diffs the scan against the graph's source nodes. The
// mtime shortcut skips digesting untouched files; everything else is
// digested and pushed through ReconcileSource.
func reconcileAllSources(ctx context.Context, g *graph.Graph, fs *rw.Filesystem, snap *Snapshot) {
	logger := ctxlog.FromContext(ctx)
	outputs := g.ComputeOutputs()

	seen := assetid.Set{}
	for id, modTime := range snap.Files {
		seen.Add(id)
		n := g.Get(id)
		if n != nil && n.Kind == graph.KindGenerated {
			// A known output showing up in the scan is not a source.
			continue
		}
		if n != nil && n.Kind == graph.KindSource && !n.ModTime.IsZero() && n.ModTime.Equal(modTime) {
			continue
		}
		content, err := fs.Read(id, false)
		if err != nil {
			logger.Warn("Failed to read scanned source.", "asset", id.String(), "error", err)
			continue
		}
		g.ReconcileSource(id, digest.Compute(id, content), modTime, outputs)
	}

	// Sources that vanished become missing-source tombstones.
	var gone []assetid.ID
	g.Nodes(func(n *graph.Node) {
		if n.Kind == graph.KindSource && !seen.Contains(n.ID) {
			gone = append(gone, n.ID)
		}
	})
	for _, id := range gone {
		logger.Debug("Source deleted since last build.", "asset", id.String())
		g.ReconcileSource(id, "", time.Time{}, outputs)
	}
}

// recheckGlobs re-evaluates every glob node's pattern against the current
// graph. A changed match set dirties the steps that recorded the glob as an
// input.
func recheckGlobs(ctx context.Context, g *graph.Graph) {
	logger := ctxlog.FromContext(ctx)
	outputs := g.ComputeOutputs()

	var globs []*graph.Node
	g.Nodes(func(n *graph.Node) {
		if n.Kind == graph.KindGlob {
			globs = append(globs, n)
		}
	})

	for _, globNode := range globs {
		state := globNode.Glob
		var current []assetid.ID
		g.Nodes(func(n *graph.Node) {
			if n.ID.Package != state.Package || !fsutil.MatchGlob(state.Pattern, n.ID.Path) {
				return
			}
			switch n.Kind {
			case graph.KindSource:
				current = append(current, n.ID)
			case graph.KindGenerated:
				if !n.Generated.IsHidden && n.Generated.Phase < state.Phase && n.Generated.WasOutput {
					current = append(current, n.ID)
				}
			}
		})
		assetid.Sort(current)

		if equalIDs(current, state.Results) {
			continue
		}
		logger.Debug("Glob match set changed.", "glob", globNode.ID.String())
		g.Add(graph.NewGlobNode(globNode.ID, state.Phase, state.Package, state.Pattern, current))
		for consumer := range outputs[globNode.ID] {
			g.MarkDirty(consumer, outputs)
		}
	}
}

// recheckOutputsOnDisk dirties generated nodes whose committed file is no
// longer present.
func recheckOutputsOnDisk(ctx context.Context, g *graph.Graph, fs *rw.Filesystem) {
	logger := ctxlog.FromContext(ctx)
	outputs := g.ComputeOutputs()
	g.Nodes(func(n *graph.Node) {
		if n.Kind != graph.KindGenerated || !n.Generated.WasOutput {
			return
		}
		if !fs.Exists(n.ID, n.Generated.IsHidden) {
			logger.Debug("Committed output missing from disk.", "asset", n.ID.String())
			g.MarkDirty(n.ID, outputs)
		}
	})
}

func equalIDs(a, b []assetid.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mustSourcePath(pkgs *pkggraph.Graph, id assetid.ID) string {
	pkg := pkgs.Package(id.Package)
	if pkg == nil {
		return ""
	}
	return filepath.Join(pkg.Root, filepath.FromSlash(id.Path))
}
