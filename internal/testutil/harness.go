// Package testutil provides the integration-test harness: it materializes a
// package tree in a temp directory, runs the engine against it, and exposes
// the outputs, plus a small set of canned builders the feature tests are
// written with.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/app"
	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/executor"
	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/rw"
)

// RootPackage is the package name the harness uses for bare file keys.
const RootPackage = "a"

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Outcome holds the results of one harness build.
type Outcome struct {
	Result    *executor.Result
	Err       error
	LogOutput string
	App       *app.App
}

// BuildOptions tweaks one harness build.
type BuildOptions struct {
	DeleteConflictingOutputs bool
	BuildFilters             []string
	OutputDir                string
}

// Project is a materialized package tree the engine can build repeatedly,
// which is what the incremental tests need.
type Project struct {
	t         *testing.T
	baseDir   string
	pkgDirs   map[string]string
	mtimeBump time.Duration
}

// NewProject writes the given files into a fresh temp tree. Keys are asset
// references ("pkg|path" or a bare path in the root package "a"); a
// packages.yaml tying the packages together is generated alongside.
func NewProject(t *testing.T, files map[string]string) *Project {
	t.Helper()
	baseDir := t.TempDir()

	p := &Project{t: t, baseDir: baseDir, pkgDirs: map[string]string{}}
	pkgSet := map[string]struct{}{RootPackage: {}}
	for key := range files {
		id := p.parse(key)
		pkgSet[id.Package] = struct{}{}
	}

	var pkgNames []string
	for name := range pkgSet {
		pkgNames = append(pkgNames, name)
		p.pkgDirs[name] = filepath.Join(baseDir, name)
		require.NoError(t, os.MkdirAll(p.pkgDirs[name], 0o755))
	}
	sort.Strings(pkgNames)

	for key, content := range files {
		p.WriteSource(key, content)
	}

	var cfg bytes.Buffer
	fmt.Fprintf(&cfg, "root: %s\npackages:\n", RootPackage)
	for _, name := range pkgNames {
		fmt.Fprintf(&cfg, "  %s:\n    path: %s\n", name, p.pkgDirs[name])
		if name == RootPackage && len(pkgNames) > 1 {
			fmt.Fprintf(&cfg, "    deps:\n")
			for _, dep := range pkgNames {
				if dep != RootPackage {
					fmt.Fprintf(&cfg, "      - %s\n", dep)
				}
			}
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(p.pkgDirs[RootPackage], "packages.yaml"), cfg.Bytes(), 0o644))

	return p
}

// Build runs one engine pass with the given phases. Each call constructs a
// fresh App, so the persisted graph is reloaded exactly as consecutive CLI
// invocations would.
func (p *Project) Build(apps []*phase.BuilderApplication, post []*phase.PostBuilderApplication, opts *BuildOptions) *Outcome {
	p.t.Helper()
	if opts == nil {
		opts = &BuildOptions{}
	}

	logBuffer := &SafeBuffer{}
	cfg, err := app.NewConfig(app.Config{
		WorkingDir:               p.pkgDirs[RootPackage],
		LogLevel:                 "debug",
		LogFormat:                "text",
		DeleteConflictingOutputs: opts.DeleteConflictingOutputs,
		BuildFilters:             opts.BuildFilters,
		OutputDir:                opts.OutputDir,
	})
	require.NoError(p.t, err)

	testApp, err := app.New(logBuffer, cfg, apps, post)
	if err != nil {
		return &Outcome{Err: err, LogOutput: logBuffer.String()}
	}

	result, err := testApp.Build(context.Background())
	return &Outcome{
		Result:    result,
		Err:       err,
		LogOutput: logBuffer.String(),
		App:       testApp,
	}
}

// parse resolves a harness file key to an asset ID.
func (p *Project) parse(key string) assetid.ID {
	p.t.Helper()
	if id, _, err := assetid.Parse(key); err == nil {
		return id
	}
	return assetid.New(RootPackage, key)
}

// pathFor resolves a harness key to its physical location; the "$$" prefix
// selects the hidden cache location.
func (p *Project) pathFor(key string) string {
	p.t.Helper()
	id, hidden, err := assetid.Parse(key)
	if err != nil {
		id, hidden = assetid.New(RootPackage, key), false
	}
	if hidden {
		return filepath.Join(p.pkgDirs[RootPackage], rw.CacheDirName, "generated", id.Package, filepath.FromSlash(id.Path))
	}
	return filepath.Join(p.pkgDirs[id.Package], filepath.FromSlash(id.Path))
}

// WriteSource writes (or overwrites) a file in the tree. Each write bumps
// the mtime strictly forward so the rescan's mtime shortcut never masks a
// rewrite that happens within one clock tick.
func (p *Project) WriteSource(key, content string) {
	p.t.Helper()
	path := p.pathFor(key)
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(p.t, os.WriteFile(path, []byte(content), 0o644))

	p.mtimeBump += 10 * time.Millisecond
	stamp := time.Now().Add(p.mtimeBump)
	require.NoError(p.t, os.Chtimes(path, stamp, stamp))
}

// DeleteSource removes a file from the tree.
func (p *Project) DeleteSource(key string) {
	p.t.Helper()
	require.NoError(p.t, os.Remove(p.pathFor(key)))
}

// Read returns a file's content and whether it exists.
func (p *Project) Read(key string) (string, bool) {
	p.t.Helper()
	content, err := os.ReadFile(p.pathFor(key))
	if err != nil {
		return "", false
	}
	return string(content), true
}

// Exists reports whether the file is on disk.
func (p *Project) Exists(key string) bool {
	p.t.Helper()
	_, ok := p.Read(key)
	return ok
}

// RootDir returns the root package directory.
func (p *Project) RootDir() string {
	return p.pkgDirs[RootPackage]
}
