// Package pkggraph models the set of packages a build operates on: their
// root directories, their dependencies, and which of their assets are
// visible to other packages.
package pkggraph

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/vk/assetforge/internal/assetid"
)

// ConfigFileName is the package layout file looked up in the root package
// directory.
const ConfigFileName = "packages.yaml"

// Package describes a single package in the graph.
type Package struct {
	Name string
	// Root is the absolute filesystem root directory of the package.
	Root string
	// Deps lists the names of packages this package depends on.
	Deps []string
	// AdditionalPublicAssets holds globs of assets outside lib/ that the
	// package exposes to other packages.
	AdditionalPublicAssets []string
}

// Graph is the set of packages with a distinguished root package.
type Graph struct {
	Root     string
	packages map[string]*Package
}

// New builds a Graph from a list of packages. The root package must be
// present.
func New(root string, pkgs []*Package) (*Graph, error) {
	byName := make(map[string]*Package, len(pkgs))
	for _, p := range pkgs {
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate package %q", p.Name)
		}
		byName[p.Name] = p
	}
	if _, ok := byName[root]; !ok {
		return nil, fmt.Errorf("root package %q not declared", root)
	}
	for _, p := range pkgs {
		for _, dep := range p.Deps {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("package %q depends on undeclared package %q", p.Name, dep)
			}
		}
	}
	return &Graph{Root: root, packages: byName}, nil
}

// Package returns the named package, or nil when unknown.
func (g *Graph) Package(name string) *Package {
	return g.packages[name]
}

// Contains reports whether the graph declares the named package.
func (g *Graph) Contains(name string) bool {
	_, ok := g.packages[name]
	return ok
}

// Names returns all package names in stable order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.packages))
	for name := range g.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsPublic reports whether the asset is visible outside its owning package:
// either under lib/, or covered by the package's additional_public_assets
// globs. Assets in the root package are always visible.
func (g *Graph) IsPublic(id assetid.ID) bool {
	if id.Package == g.Root {
		return true
	}
	if id.IsLib() {
		return true
	}
	pkg := g.packages[id.Package]
	if pkg == nil {
		return false
	}
	for _, glob := range pkg.AdditionalPublicAssets {
		if ok, err := doublestar.Match(glob, id.Path); err == nil && ok {
			return true
		}
	}
	return false
}

// configFile is the on-disk shape of packages.yaml.
type configFile struct {
	Root     string                     `yaml:"root"`
	Packages map[string]configFileEntry `yaml:"packages"`
}

type configFileEntry struct {
	Path                   string   `yaml:"path"`
	Deps                   []string `yaml:"deps"`
	AdditionalPublicAssets []string `yaml:"additional_public_assets"`
}

// Load reads a packages.yaml file. Relative package paths are resolved
// against the directory containing the file.
func Load(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package config %s: %w", path, err)
	}
	var cfg configFile
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse package config %s: %w", path, err)
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("package config %s: missing root package name", path)
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	pkgs := make([]*Package, 0, len(cfg.Packages))
	for name, entry := range cfg.Packages {
		root := entry.Path
		if root == "" {
			return nil, fmt.Errorf("package config %s: package %q has no path", path, name)
		}
		if !filepath.IsAbs(root) {
			root = filepath.Join(baseDir, root)
		}
		pkgs = append(pkgs, &Package{
			Name:                   name,
			Root:                   root,
			Deps:                   entry.Deps,
			AdditionalPublicAssets: entry.AdditionalPublicAssets,
		})
	}
	return New(cfg.Root, pkgs)
}

// SinglePackage builds a one-package graph rooted at dir. It is the fallback
// when no packages.yaml exists.
func SinglePackage(name, dir string) (*Graph, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return New(name, []*Package{{Name: name, Root: abs}})
}
