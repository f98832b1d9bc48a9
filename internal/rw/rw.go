// Package rw implements the physical half of the engine's virtual
// filesystem: resolving asset IDs to source-tree or cache locations,
// reading them, and staging writes so a failed step leaves the disk
// untouched. Visibility policy lives in the executor; this package only
// moves bytes.
package rw

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/pkggraph"
)

const (
	// CacheDirName is the engine-owned dot directory in the root package.
	CacheDirName = ".assetforge"
	// generatedDirName holds hidden outputs, one subtree per package.
	generatedDirName = "generated"
	// GraphFileName is the persisted asset graph inside the cache dir.
	GraphFileName = "asset_graph.json"
)

// Filesystem resolves asset IDs against the package graph and the engine
// cache.
type Filesystem struct {
	pkgs      *pkggraph.Graph
	cacheRoot string

	// OnDelete, when set, is consulted before deleting a non-hidden asset from
	// a package source tree; hidden cache deletions do not consult it.
	// Returning false vetoes the deletion.
	OnDelete func(path string) bool
}

// NewFilesystem creates a Filesystem rooted at the root package directory.
func NewFilesystem(pkgs *pkggraph.Graph) (*Filesystem, error) {
	root := pkgs.Package(pkgs.Root)
	if root == nil {
		return nil, fmt.Errorf("package graph has no root package")
	}
	return &Filesystem{
		pkgs:      pkgs,
		cacheRoot: filepath.Join(root.Root, CacheDirName),
	}, nil
}

// CacheRoot returns the engine-owned cache directory.
func (f *Filesystem) CacheRoot() string { return f.cacheRoot }

// GraphPath returns the location of the persisted asset graph.
func (f *Filesystem) GraphPath() string {
	return filepath.Join(f.cacheRoot, GraphFileName)
}

// SourcePath resolves an asset to its location in the owning package's
// source tree.
func (f *Filesystem) SourcePath(id assetid.ID) (string, error) {
	pkg := f.pkgs.Package(id.Package)
	if pkg == nil {
		return "", fmt.Errorf("unknown package %q", id.Package)
	}
	return filepath.Join(pkg.Root, filepath.FromSlash(id.Path)), nil
}

// GeneratedPath resolves a hidden output to its cache location.
func (f *Filesystem) GeneratedPath(id assetid.ID) string {
	return filepath.Join(f.cacheRoot, generatedDirName, id.Package, filepath.FromSlash(id.Path))
}

// Path resolves an asset: hidden outputs live in the cache, everything else
// in the source tree.
func (f *Filesystem) Path(id assetid.ID, hidden bool) (string, error) {
	if hidden {
		return f.GeneratedPath(id), nil
	}
	return f.SourcePath(id)
}

// Read returns the asset bytes from its resolved location.
func (f *Filesystem) Read(id assetid.ID, hidden bool) ([]byte, error) {
	path, err := f.Path(id, hidden)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Exists reports whether the asset is present at its resolved location.
func (f *Filesystem) Exists(id assetid.ID, hidden bool) bool {
	path, err := f.Path(id, hidden)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Stat returns file info for a source asset.
func (f *Filesystem) Stat(id assetid.ID) (os.FileInfo, error) {
	path, err := f.SourcePath(id)
	if err != nil {
		return nil, err
	}
	return os.Stat(path)
}

// Write places asset bytes at the resolved location, creating parent
// directories as needed.
func (f *Filesystem) Write(id assetid.ID, hidden bool, content []byte) error {
	path, err := f.Path(id, hidden)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

// Delete removes a generated asset from disk. Missing files are not an
// error. The OnDelete hook can veto deletions inside package source trees.
func (f *Filesystem) Delete(id assetid.ID, hidden bool) error {
	path, err := f.Path(id, hidden)
	if err != nil {
		return err
	}
	if !hidden && f.OnDelete != nil && !f.OnDelete(path) {
		return fmt.Errorf("deletion of %s vetoed", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PurgeGeneratedCache removes the entire hidden output tree, as done on a
// full rebuild. Only the engine-owned cache directory is touched.
func (f *Filesystem) PurgeGeneratedCache() error {
	return os.RemoveAll(filepath.Join(f.cacheRoot, generatedDirName))
}
