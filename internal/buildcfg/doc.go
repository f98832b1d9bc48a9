// Package buildcfg loads the optional per-package build configuration file
// (build.hcl): target source globs, per-builder generate_for globs and
// options, and additional public assets.
package buildcfg
