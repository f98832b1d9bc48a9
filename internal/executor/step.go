package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/fsutil"
	"github.com/vk/assetforge/internal/graph"
	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/rw"
)

// buildStep is the engine-side implementation of builder.BuildStep for one
// in-build action. It accumulates the step's discovered inputs, memoizes
// visibility answers, and stages writes until commit.
type buildStep struct {
	e          *Executor
	phaseNum   int
	builderKey string
	hideOutput bool
	// allowAnyOutput lifts the declared-output restriction for post-process
	// steps, whose outputs are discovered as they are written.
	allowAnyOutput bool

	input     assetid.ID
	outputs   []assetid.ID
	outputSet assetid.Set

	staging     *rw.Staging
	inputs      assetid.Set
	unused      assetid.Set
	canReadMemo map[assetid.ID]bool
}

func newBuildStep(e *Executor, ph *phase.InBuildPhase, input assetid.ID, outputs []assetid.ID) *buildStep {
	return &buildStep{
		e:           e,
		phaseNum:    ph.Number,
		builderKey:  ph.Key,
		hideOutput:  ph.HideOutput,
		input:       input,
		outputs:     outputs,
		outputSet:   assetid.NewSet(outputs...),
		staging:     rw.NewStaging(),
		inputs:      assetid.Set{},
		unused:      assetid.Set{},
		canReadMemo: map[assetid.ID]bool{},
	}
}

func (s *buildStep) InputID() assetid.ID { return s.input }

func (s *buildStep) AllowedOutputs() []assetid.ID {
	out := make([]assetid.ID, len(s.outputs))
	copy(out, s.outputs)
	return out
}

func (s *buildStep) ReadAsBytes(ctx context.Context, id assetid.ID) ([]byte, error) {
	content, err := s.read(ctx, id)
	return content, err
}

func (s *buildStep) ReadAsString(ctx context.Context, id assetid.ID) (string, error) {
	content, err := s.read(ctx, id)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (s *buildStep) CanRead(ctx context.Context, id assetid.ID) bool {
	if answer, ok := s.canReadMemo[id]; ok {
		return answer
	}
	_, err := s.read(ctx, id)
	answer := err == nil
	s.canReadMemo[id] = answer
	return answer
}

func (s *buildStep) WriteAsBytes(id assetid.ID, content []byte) error {
	if s.allowAnyOutput {
		if id.Package != s.input.Package {
			return &builder.UnexpectedOutputError{ID: id}
		}
	} else if !s.outputSet.Contains(id) {
		return &builder.UnexpectedOutputError{ID: id}
	}
	s.staging.Stage(id, s.hideOutput, content)
	return nil
}

func (s *buildStep) WriteAsString(id assetid.ID, content string) error {
	return s.WriteAsBytes(id, []byte(content))
}

func (s *buildStep) ReportUnusedAssets(ids ...assetid.ID) {
	for _, id := range ids {
		s.unused.Add(id)
	}
}

func (s *buildStep) Resolver() builder.Resolver { return s.e.opts.Resolver }

// read resolves one asset for this step, enforcing the visibility rules and
// recording the discovered dependency.
func (s *buildStep) read(ctx context.Context, id assetid.ID) ([]byte, error) {
	// Read-your-writes within the step.
	if content, ok := s.staging.Get(id); ok {
		s.inputs.Add(id)
		return content, nil
	}

	// Reading an own declared output before writing it sees "not found"
	// and, after the self-edge strip at commit, leaves no edge behind.
	if s.outputSet.Contains(id) {
		return nil, &builder.AssetNotFoundError{ID: id}
	}

	// The engine-owned cache tree is never readable by builders.
	if id.Path == rw.CacheDirName || strings.HasPrefix(id.Path, rw.CacheDirName+"/") {
		return nil, &builder.InvalidInputError{ID: id, Reason: "engine-owned path"}
	}

	// Cross-package reads only reach public assets.
	if id.Package != s.input.Package && !s.e.pkgs.IsPublic(id) {
		return nil, &builder.InvalidInputError{ID: id, Reason: "asset is private to package " + id.Package}
	}
	if !s.e.pkgs.Contains(id.Package) {
		return nil, &builder.InvalidInputError{ID: id, Reason: "unknown package"}
	}

	node := s.e.graph.Get(id)
	if node == nil {
		s.e.graph.Add(graph.NewMissingSourceNode(id))
		s.inputs.Add(id)
		return nil, &builder.AssetNotFoundError{ID: id}
	}

	switch node.Kind {
	case graph.KindMissingSource:
		s.inputs.Add(id)
		return nil, &builder.AssetNotFoundError{ID: id}

	case graph.KindSource:
		content, err := s.e.fs.Read(id, false)
		if err != nil {
			// The scan saw this file; its disappearance is a concurrent
			// modification. The current snapshot completes and the next
			// build re-invalidates.
			ctxlog.FromContext(ctx).Warn("Source disappeared during build.", "asset", id.String(), "error", err)
			s.inputs.Add(id)
			return nil, &builder.AssetNotFoundError{ID: id}
		}
		s.inputs.Add(id)
		return content, nil

	case graph.KindGenerated:
		return s.readGenerated(ctx, id, node)

	default:
		return nil, &builder.InvalidInputError{ID: id, Reason: "engine-internal asset"}
	}
}

// readGenerated applies the cross-phase visibility rules: earlier-phase
// outputs are demanded on first read, same-or-later phases are invisible,
// and overdeclared outputs never become inputs.
func (s *buildStep) readGenerated(ctx context.Context, id assetid.ID, node *graph.Node) ([]byte, error) {
	gen := node.Generated
	if gen.Phase >= s.phaseNum {
		return nil, &builder.InvalidInputError{
			ID:     id,
			Reason: fmt.Sprintf("produced at phase %d, not visible to phase %d", gen.Phase, s.phaseNum),
		}
	}

	producer, err := s.e.phaseFor(node)
	if err != nil {
		return nil, err
	}
	// The explicit read forces the producing action to complete for this
	// input, which is also what makes hidden and optional outputs
	// reachable.
	if err := s.e.runAction(ctx, producer, gen.PrimaryInput); err != nil {
		return nil, err
	}

	switch {
	case gen.State == graph.StateFailure:
		s.inputs.Add(id)
		return nil, &builder.AssetNotFoundError{ID: id}
	case !gen.WasOutput:
		// Overdeclared: must not be treated as an input even though it was
		// referenced, or phantom dependencies would accrue.
		return nil, &builder.AssetNotFoundError{ID: id}
	}

	content, err := s.e.fs.Read(id, gen.IsHidden)
	if err != nil {
		s.inputs.Add(id)
		return nil, &builder.AssetNotFoundError{ID: id}
	}
	s.inputs.Add(id)
	return content, nil
}

// FindAssets resolves a glob against the assets visible to this step:
// sources plus non-hidden outputs of earlier phases. The resolved glob is
// recorded as an input so changes to its match set invalidate the step.
func (s *buildStep) FindAssets(ctx context.Context, glob string, pkg string) ([]assetid.ID, error) {
	if pkg == "" {
		pkg = s.input.Package
	}
	if err := fsutil.ValidateGlob(glob); err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", glob, err)
	}
	if !s.e.pkgs.Contains(pkg) {
		return nil, &builder.InvalidInputError{ID: assetid.ID{Package: pkg, Path: glob}, Reason: "unknown package"}
	}

	// The result of a (phase, package, pattern) glob is memoized for the
	// whole build, so every step observes the same match set.
	globID := graph.GlobID(pkg, s.phaseNum, glob)
	if _, memoized := s.e.globMemo[globID]; memoized {
		s.inputs.Add(globID)
		if n := s.e.graph.Get(globID); n != nil && n.Glob != nil {
			return append([]assetid.ID{}, n.Glob.Results...), nil
		}
		return nil, nil
	}

	crossPackage := pkg != s.input.Package

	var candidates []assetid.ID
	s.e.graph.Nodes(func(n *graph.Node) {
		if n.ID.Package != pkg || !fsutil.MatchGlob(glob, n.ID.Path) {
			return
		}
		switch n.Kind {
		case graph.KindSource:
			if crossPackage && !s.e.pkgs.IsPublic(n.ID) {
				return
			}
			candidates = append(candidates, n.ID)
		case graph.KindGenerated:
			// Hidden outputs never appear in globs; they are reachable by
			// explicit read only.
			if n.Generated.IsHidden || n.Generated.Phase >= s.phaseNum {
				return
			}
			if crossPackage && !s.e.pkgs.IsPublic(n.ID) {
				return
			}
			candidates = append(candidates, n.ID)
		}
	})

	var results []assetid.ID
	for _, id := range candidates {
		n := s.e.graph.Get(id)
		if n.Kind == graph.KindGenerated {
			producer, err := s.e.phaseFor(n)
			if err != nil {
				return nil, err
			}
			if err := s.e.runAction(ctx, producer, n.Generated.PrimaryInput); err != nil {
				return nil, err
			}
			if n.Generated.State != graph.StateSuccess || !n.Generated.WasOutput {
				continue
			}
		}
		results = append(results, id)
	}
	assetid.Sort(results)

	s.e.graph.Add(graph.NewGlobNode(globID, s.phaseNum, pkg, glob, results))
	s.e.globMemo[globID] = struct{}{}
	s.inputs.Add(globID)

	return results, nil
}
