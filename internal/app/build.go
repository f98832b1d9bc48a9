package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/executor"
	"github.com/vk/assetforge/internal/graph"
	"github.com/vk/assetforge/internal/invalidate"
)

// Build runs one full or incremental build pass: scan, invalidate, execute,
// persist. The returned result carries per-step failures; a non-nil error
// means the build could not run at all.
func (a *App) Build(ctx context.Context) (*executor.Result, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	started := time.Now()

	snap, err := a.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	g := invalidate.Load(ctx, a.fs)
	if g == nil {
		a.logger.Info("No usable asset graph; starting a full build.")
		g, err = invalidate.BuildInitialGraph(ctx, a.fs, a.pkgs, snap)
		if err != nil {
			return nil, err
		}
	} else {
		full, err := invalidate.Apply(ctx, g, a.fs, snap)
		if err != nil {
			return nil, err
		}
		if full {
			a.logger.Info("Configuration change forced a full rebuild.")
		}
	}
	a.current = g

	exec := executor.New(g, a.phases, a.fs, a.pkgs, executor.Options{
		BuildFilters:             a.config.BuildFilters,
		BuildDirs:                a.config.BuildDirs,
		DeleteConflictingOutputs: a.config.DeleteConflictingOutputs,
		LowResourcesMode:         a.config.LowResourcesMode,
	})
	result, err := exec.Run(ctx)
	if err != nil {
		return nil, err
	}

	if err := invalidate.Save(ctx, a.fs, g); err != nil {
		return nil, err
	}

	if result.Succeeded && a.config.OutputDir != "" {
		if err := a.materializeOutput(ctx, a.config.OutputDir); err != nil {
			return nil, err
		}
	}

	a.logSummary(result, time.Since(started))
	return result, nil
}

// snapshot gathers the current world state: scanned sources and the
// internal inputs whose change forces a full rebuild.
func (a *App) snapshot(ctx context.Context) (*invalidate.Snapshot, error) {
	files, err := invalidate.ScanSources(ctx, a.pkgs, a.cfgs)
	if err != nil {
		return nil, err
	}
	return &invalidate.Snapshot{
		Files:     files,
		Internals: invalidate.InternalInputs(a.pkgs, a.cfgRaw, a.scriptIdentity()),
	}, nil
}

// logSummary prints the one-line-per-failure report and the build totals.
func (a *App) logSummary(result *executor.Result, elapsed time.Duration) {
	for _, f := range result.Failures {
		a.logger.Error("Step failed.", "builder", f.Builder, "input", f.Input.String(), "error", f.Err)
	}
	if result.Succeeded {
		a.logger.Info("🏁 Build succeeded.", "actions", result.ActionsRun, "outputs", result.OutputsWritten, "elapsed", elapsed.Round(time.Millisecond))
	} else {
		a.logger.Error("Build failed.", "failures", len(result.Failures), "actions", result.ActionsRun, "elapsed", elapsed.Round(time.Millisecond))
	}
}

// materializeOutput copies the merged tree into dir: the root package at
// the top level, other packages' lib assets under packages/<pkg>/.
func (a *App) materializeOutput(ctx context.Context, dir string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Materializing merged output.", "dir", dir)

	writeOut := func(id assetid.ID, content []byte) error {
		var rel string
		if id.Package == a.pkgs.Root {
			rel = id.Path
		} else if id.IsLib() {
			rel = "packages/" + id.Package + "/" + strings.TrimPrefix(id.Path, "lib/")
		} else {
			return nil
		}
		dest := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dest, content, 0o644)
	}

	var outErr error
	a.current.Nodes(func(n *graph.Node) {
		if outErr != nil {
			return
		}
		switch n.Kind {
		case graph.KindSource:
			content, err := a.fs.Read(n.ID, false)
			if err != nil {
				return
			}
			outErr = writeOut(n.ID, content)
		case graph.KindGenerated:
			if n.Generated.State != graph.StateSuccess || !n.Generated.WasOutput {
				return
			}
			content, err := a.fs.Read(n.ID, n.Generated.IsHidden)
			if err != nil {
				return
			}
			outErr = writeOut(n.ID, content)
		}
	})
	return outErr
}
