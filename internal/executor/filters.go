package executor

import (
	"strings"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/fsutil"
)

// buildFilter is one --build-filter pattern, optionally scoped to a
// package. A bare pattern applies to the root package.
type buildFilter struct {
	pkg     string
	pattern string
}

func parseFilters(raw []string, rootPkg string) []buildFilter {
	out := make([]buildFilter, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimPrefix(r, assetid.HiddenPrefix)
		if pkg, pattern, ok := strings.Cut(r, "|"); ok {
			out = append(out, buildFilter{pkg: pkg, pattern: pattern})
			continue
		}
		out = append(out, buildFilter{pkg: rootPkg, pattern: r})
	}
	return out
}

func (f buildFilter) matches(id assetid.ID) bool {
	return f.pkg == id.Package && fsutil.MatchGlob(f.pattern, id.Path)
}

// requiredEagerly decides whether a non-optional action's output must be
// produced in the main phase sweep. Non-hidden outputs always are, to keep
// the source tree deterministic. Hidden outputs are filtered: with build
// filters or build dirs configured, a hidden output is built eagerly only
// when it matches one; anything else is left to on-demand evaluation.
func (e *Executor) requiredEagerly(id assetid.ID, hidden bool) bool {
	if !hidden {
		return true
	}
	if len(e.filters) == 0 && len(e.opts.BuildDirs) == 0 {
		return true
	}
	for _, f := range e.filters {
		if f.matches(id) {
			return true
		}
	}
	for _, dir := range e.opts.BuildDirs {
		if id.Package == e.pkgs.Root && (id.Path == dir || strings.HasPrefix(id.Path, dir+"/")) {
			return true
		}
	}
	return false
}
