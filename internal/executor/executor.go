package executor

import (
	"context"
	"fmt"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/graph"
	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/pkggraph"
	"github.com/vk/assetforge/internal/rw"
)

// Options configures one build pass.
type Options struct {
	// BuildFilters limits which hidden outputs must be produced eagerly.
	BuildFilters []string
	// BuildDirs scopes eager production to directories of the root package.
	BuildDirs []string
	// DeleteConflictingOutputs treats pre-existing files that collide with
	// declared outputs as absent instead of failing.
	DeleteConflictingOutputs bool
	// LowResourcesMode further serializes work; observable outputs are
	// identical.
	LowResourcesMode bool
	// Resolver is the opaque capability forwarded to build steps.
	Resolver builder.Resolver
}

// actionKey identifies one builder invocation: a primary input at a phase.
type actionKey struct {
	phase int
	input assetid.ID
}

// Executor runs a compiled phase list over the asset graph.
type Executor struct {
	graph  *graph.Graph
	phases *phase.Phases
	fs     *rw.Filesystem
	pkgs   *pkggraph.Graph
	opts   Options

	filters   []buildFilter
	completed map[actionKey]struct{}
	inFlight  map[actionKey]struct{}
	chain     []assetid.ID
	globMemo  map[assetid.ID]struct{}

	failures       []StepFailure
	actionsRun     int
	outputsWritten int
}

// New creates an executor over a prepared graph and phase list.
func New(g *graph.Graph, phases *phase.Phases, fs *rw.Filesystem, pkgs *pkggraph.Graph, opts Options) *Executor {
	if opts.Resolver == nil {
		opts.Resolver = noopResolver{}
	}
	return &Executor{
		graph:     g,
		phases:    phases,
		fs:        fs,
		pkgs:      pkgs,
		opts:      opts,
		filters:   parseFilters(opts.BuildFilters, pkgs.Root),
		completed: map[actionKey]struct{}{},
		inFlight:  map[actionKey]struct{}{},
		globMemo:  map[assetid.ID]struct{}{},
	}
}

// Run executes all phases in order and returns the build result. Fatal
// configuration errors (cycles, conflicting outputs without the delete
// flag) abort with an error; per-step builder failures are collected in the
// result instead.
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	if e.opts.LowResourcesMode {
		logger.Debug("Low resources mode: demand prefetch disabled.")
	}

	e.pruneOrphans(ctx)

	if err := e.ensureGeneratedNodes(ctx); err != nil {
		return nil, err
	}

	for _, ph := range e.phases.InBuild {
		if ph.IsOptional {
			logger.Debug("Skipping optional phase in main sweep.", "phase", ph.Number, "builder", ph.Key)
			continue
		}
		if err := e.runPhase(ctx, ph); err != nil {
			return nil, err
		}
	}

	if e.phases.Post != nil {
		if err := e.runPostPhase(ctx); err != nil {
			return nil, err
		}
	}

	e.cascadeFailures(ctx)

	result := &Result{
		Succeeded:      len(e.failures) == 0,
		Failures:       e.failures,
		ActionsRun:     e.actionsRun,
		OutputsWritten: e.outputsWritten,
	}
	return result, nil
}

// pruneOrphans removes generated state whose primary input no longer
// exists, deleting stale files from disk. Removal can orphan further
// nodes, so this iterates to a fixpoint.
func (e *Executor) pruneOrphans(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for {
		var doomed []assetid.ID
		e.graph.Nodes(func(n *graph.Node) {
			switch n.Kind {
			case graph.KindGenerated:
				parent := e.graph.Get(n.Generated.PrimaryInput)
				if parent == nil || parent.Kind == graph.KindMissingSource {
					doomed = append(doomed, n.ID)
				}
			case graph.KindPostProcessAnchor:
				parent := e.graph.Get(n.Anchor.PrimaryInput)
				if parent == nil || parent.Kind == graph.KindMissingSource {
					doomed = append(doomed, n.ID)
				}
			}
		})
		if len(doomed) == 0 {
			return
		}
		for _, id := range doomed {
			n := e.graph.Get(id)
			switch n.Kind {
			case graph.KindGenerated:
				if n.Generated.WasOutput {
					if err := e.fs.Delete(id, n.Generated.IsHidden); err != nil {
						logger.Warn("Failed to delete orphaned output.", "asset", id.String(), "error", err)
					}
				}
			case graph.KindPostProcessAnchor:
				for out := range n.Anchor.Outputs {
					if err := e.fs.Delete(out, true); err != nil {
						logger.Warn("Failed to delete orphaned post-process output.", "asset", out.String(), "error", err)
					}
				}
			}
			logger.Debug("Pruned orphaned node.", "asset", id.String())
			e.graph.Remove(id)
		}
	}
}

// ensureGeneratedNodes walks phases in order and materializes the pending
// generated nodes for every matching primary input, wiring the
// bidirectional primary-input/primary-output links. Pre-existing source
// files that collide with declared non-hidden outputs are a configuration
// error unless the delete flag is set.
func (e *Executor) ensureGeneratedNodes(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	for _, ph := range e.phases.InBuild {
		var inputs []assetid.ID
		e.graph.Nodes(func(n *graph.Node) {
			switch n.Kind {
			case graph.KindSource, graph.KindPlaceholder:
				inputs = append(inputs, n.ID)
			case graph.KindGenerated:
				if n.Generated.Phase < ph.Number {
					inputs = append(inputs, n.ID)
				}
			}
		})

		for _, input := range inputs {
			outputs := ph.ExpectedOutputs(input)
			if len(outputs) == 0 {
				continue
			}
			parent := e.graph.Get(input)
			for _, out := range outputs {
				if existing := e.graph.Get(out); existing != nil {
					switch existing.Kind {
					case graph.KindGenerated:
						if existing.Generated.Phase != ph.Number || existing.Generated.PrimaryInput != input {
							return &builder.CannotBuildError{
								Reason: fmt.Sprintf("output %s is declared by both %q (phase %d) and %q (phase %d)",
									out.String(), existing.Generated.Builder, existing.Generated.Phase, ph.Key, ph.Number),
							}
						}
						parent.PrimaryOutputs.Add(out)
						continue
					case graph.KindSource:
						if !e.opts.DeleteConflictingOutputs {
							return &builder.ConflictingOutputError{ID: out}
						}
						logger.Info("Deleting conflicting pre-existing output.", "asset", out.String())
						e.graph.Remove(out)
					}
				}
				e.graph.Add(graph.NewGeneratedNode(out, ph.Number, ph.Key, input, ph.HideOutput))
				parent.PrimaryOutputs.Add(out)
			}
		}
	}
	return nil
}

// runPhase executes every required action of a non-optional phase, one at a
// time, in stable input order.
func (e *Executor) runPhase(ctx context.Context, ph *phase.InBuildPhase) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Phase starting.", "phase", ph.Number, "builder", ph.Key)

	for _, input := range e.phaseInputs(ph) {
		required := false
		for _, out := range ph.ExpectedOutputs(input) {
			if e.requiredEagerly(out, ph.HideOutput) {
				required = true
				break
			}
		}
		if !required {
			continue
		}
		if err := e.runAction(ctx, ph, input); err != nil {
			return err
		}
	}

	logger.Debug("Phase complete.", "phase", ph.Number, "builder", ph.Key)
	return nil
}

// phaseInputs lists the primary inputs whose generated nodes belong to the
// phase, in stable order.
func (e *Executor) phaseInputs(ph *phase.InBuildPhase) []assetid.ID {
	seen := assetid.Set{}
	e.graph.Nodes(func(n *graph.Node) {
		if n.Kind == graph.KindGenerated && n.Generated.Phase == ph.Number {
			seen.Add(n.Generated.PrimaryInput)
		}
	})
	return seen.Sorted()
}

// cascadeFailures marks generated nodes whose primary input failed as
// failed themselves and removes their stale files, so downstream consumers
// and the final report see them as absent.
func (e *Executor) cascadeFailures(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for {
		changed := false
		e.graph.Nodes(func(n *graph.Node) {
			if n.Kind != graph.KindGenerated || n.Generated.State == graph.StateFailure {
				return
			}
			parent := e.graph.Get(n.Generated.PrimaryInput)
			if parent == nil || parent.Kind != graph.KindGenerated || parent.Generated.State != graph.StateFailure {
				return
			}
			if n.Generated.WasOutput {
				if err := e.fs.Delete(n.ID, n.Generated.IsHidden); err != nil {
					logger.Warn("Failed to delete output of failed step.", "asset", n.ID.String(), "error", err)
				}
			}
			n.Generated.State = graph.StateFailure
			n.Generated.WasOutput = false
			n.Generated.Dirty = false
			n.Digest = ""
			changed = true
		})
		if !changed {
			return
		}
	}
}

// phaseFor maps a generated node back to its producing phase.
func (e *Executor) phaseFor(n *graph.Node) (*phase.InBuildPhase, error) {
	ph := e.phases.ByNumber(n.Generated.Phase)
	if ph == nil {
		return nil, fmt.Errorf("generated node %s references unknown phase %d", n.ID.String(), n.Generated.Phase)
	}
	return ph, nil
}

// noopResolver is the default resolver capability; real semantic analyzers
// are provided by the caller.
type noopResolver struct{}

func (noopResolver) LibraryFor(_ context.Context, id assetid.ID) (assetid.ID, error) {
	return id, nil
}
