package assetid

import (
	"fmt"
	"path"
	"strings"
)

// HiddenPrefix marks the cache-located form of an asset reference as used by
// external callers, e.g. "$$my_pkg|web/main.g.txt".
const HiddenPrefix = "$$"

// String serializes the ID into its canonical "<package>|<path>" form.
func (id ID) String() string {
	return id.Package + "|" + id.Path
}

// HiddenString serializes the ID in its cache-located "$$<package>|<path>"
// form.
func (id ID) HiddenString() string {
	return HiddenPrefix + id.String()
}

// URI returns the "package:<pkg>/<path-under-lib>" form. It is only defined
// for assets under lib/.
func (id ID) URI() (string, error) {
	if !id.IsLib() {
		return "", fmt.Errorf("asset %q is not under lib/ and has no package: form", id.String())
	}
	return "package:" + id.Package + "/" + strings.TrimPrefix(id.Path, "lib/"), nil
}

// Parse creates an ID from its canonical string representation. The hidden
// "$$" prefix is accepted and reported via the second return value.
func Parse(raw string) (ID, bool, error) {
	hidden := strings.HasPrefix(raw, HiddenPrefix)
	if hidden {
		raw = strings.TrimPrefix(raw, HiddenPrefix)
	}

	if strings.HasPrefix(raw, "package:") {
		id, err := ParseURI(raw)
		return id, hidden, err
	}

	pkg, rel, ok := strings.Cut(raw, "|")
	if !ok {
		return ID{}, false, fmt.Errorf("invalid asset identifier %q: missing '|' separator", raw)
	}
	if pkg == "" {
		return ID{}, false, fmt.Errorf("invalid asset identifier %q: empty package", raw)
	}
	rel = NormalizePath(rel)
	if rel == "" || rel == "." {
		return ID{}, false, fmt.Errorf("invalid asset identifier %q: empty path", raw)
	}
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return ID{}, false, fmt.Errorf("invalid asset identifier %q: path escapes the package", raw)
	}
	return ID{Package: pkg, Path: rel}, hidden, nil
}

// ParseURI creates an ID from a "package:<pkg>/<path>" reference. The
// resulting path is rooted under lib/.
func ParseURI(raw string) (ID, error) {
	rest := strings.TrimPrefix(raw, "package:")
	if rest == raw {
		return ID{}, fmt.Errorf("invalid package uri %q: missing package: scheme", raw)
	}
	pkg, rel, ok := strings.Cut(rest, "/")
	if !ok || pkg == "" || rel == "" {
		return ID{}, fmt.Errorf("invalid package uri %q: want package:<pkg>/<path>", raw)
	}
	return New(pkg, "lib/"+rel), nil
}

// NormalizePath cleans a relative asset path: forward slashes only,
// redundant separators and dot segments removed.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "./")
}

// MarshalText implements encoding.TextMarshaler so IDs can be used directly
// in serialized graph structures.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, _, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
