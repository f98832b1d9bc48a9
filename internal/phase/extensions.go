package phase

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/builder"
)

// capture is the placeholder that carries the matched stem from an input
// extension pattern into an output template.
const capture = "{{}}"

// extension is one parsed input extension pattern or output template.
//
// Three shapes exist:
//   - plain suffix: ".txt" matches any path ending in .txt
//   - capture: "web/{{}}.txt" matches a whole path, binding the stem
//   - root-relative: "^web/main.txt" matches exactly one path
type extension struct {
	raw          string
	prefix       string
	suffix       string
	hasCapture   bool
	rootRelative bool
}

func parseExtension(raw string) (extension, error) {
	ext := extension{raw: raw}
	s := raw
	if strings.HasPrefix(s, "^") {
		ext.rootRelative = true
		s = s[1:]
	}
	if s == "" {
		return ext, fmt.Errorf("empty extension pattern")
	}
	switch strings.Count(s, capture) {
	case 0:
		ext.suffix = s
	case 1:
		ext.hasCapture = true
		idx := strings.Index(s, capture)
		ext.prefix = s[:idx]
		ext.suffix = s[idx+len(capture):]
	default:
		return ext, fmt.Errorf("extension pattern %q has more than one %s capture", raw, capture)
	}
	return ext, nil
}

// match reports whether the path matches and returns the bound stem for
// capture patterns.
func (e extension) match(path string) (string, bool) {
	switch {
	case e.hasCapture:
		if !strings.HasPrefix(path, e.prefix) || !strings.HasSuffix(path, e.suffix) {
			return "", false
		}
		stem := path[len(e.prefix) : len(path)-len(e.suffix)]
		if stem == "" || strings.Contains(stem, "..") {
			return "", false
		}
		return stem, true
	case e.rootRelative:
		return "", path == e.suffix
	default:
		return "", strings.HasSuffix(path, e.suffix)
	}
}

// apply derives an output path from a matched input path.
func (e extension) apply(inputPath, outTemplate, stem string) string {
	if strings.Contains(outTemplate, capture) {
		return strings.Replace(outTemplate, capture, stem, 1)
	}
	if e.hasCapture || e.rootRelative {
		// Whole-path patterns replace the entire path.
		return outTemplate
	}
	return strings.TrimSuffix(inputPath, e.suffix) + outTemplate
}

// buildExtensions is the compiled form of a builder's declared extensions.
type buildExtensions struct {
	inputs []compiledInput
}

type compiledInput struct {
	ext     extension
	outputs []string
}

func compileExtensions(builderKey string, decl map[string][]string) (*buildExtensions, error) {
	if len(decl) == 0 {
		return nil, &builder.CannotBuildError{Reason: fmt.Sprintf("builder %q declares no build extensions", builderKey)}
	}

	keys := make([]string, 0, len(decl))
	for k := range decl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	compiled := &buildExtensions{}
	for _, k := range keys {
		ext, err := parseExtension(k)
		if err != nil {
			return nil, &builder.CannotBuildError{Reason: fmt.Sprintf("builder %q: %v", builderKey, err)}
		}
		outputs := decl[k]
		if len(outputs) == 0 {
			return nil, &builder.CannotBuildError{Reason: fmt.Sprintf("builder %q: input extension %q declares no outputs", builderKey, k)}
		}
		compiled.inputs = append(compiled.inputs, compiledInput{ext: ext, outputs: outputs})
	}

	if err := compiled.validateNoSelfFeed(builderKey); err != nil {
		return nil, err
	}
	return compiled, nil
}

// validateNoSelfFeed statically rejects output templates that would land
// back inside the builder's own input extension set, which would make the
// builder feed itself.
func (b *buildExtensions) validateNoSelfFeed(builderKey string) error {
	for _, in := range b.inputs {
		for _, other := range b.inputs {
			for _, out := range other.outputs {
				outSuffix := out
				if i := strings.LastIndex(out, capture); i >= 0 {
					outSuffix = out[i+len(capture):]
				}
				if strings.HasSuffix(outSuffix, in.ext.suffix) && in.ext.suffix != "" {
					return &builder.ExtensionsError{
						BuilderKey: builderKey,
						InputExt:   in.ext.raw,
						OutputExt:  out,
					}
				}
			}
		}
	}
	return nil
}

// matches reports whether the builder applies to the path at all.
func (b *buildExtensions) matches(path string) bool {
	for _, in := range b.inputs {
		if _, ok := in.ext.match(path); ok {
			return true
		}
	}
	return false
}

// expectedOutputs derives the declared output IDs for an input. The first
// matching input extension (in sorted declaration order) wins.
func (b *buildExtensions) expectedOutputs(input assetid.ID) []assetid.ID {
	for _, in := range b.inputs {
		stem, ok := in.ext.match(input.Path)
		if !ok {
			continue
		}
		out := make([]assetid.ID, 0, len(in.outputs))
		for _, tmpl := range in.outputs {
			out = append(out, assetid.New(input.Package, in.ext.apply(input.Path, tmpl, stem)))
		}
		return out
	}
	return nil
}
