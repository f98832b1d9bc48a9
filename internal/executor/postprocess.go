package executor

import (
	"context"
	"fmt"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/graph"
	"github.com/vk/assetforge/internal/phase"
	"github.com/vk/assetforge/internal/rw"
)

// runPostPhase executes every post-process action against its matching
// sources. Each (source, action) pair owns an anchor node; the anchor's
// digest mirrors the source digest of the last run, so unchanged sources
// skip their actions.
func (e *Executor) runPostPhase(ctx context.Context) error {
	pb := e.phases.Post

	var sources []assetid.ID
	e.graph.Nodes(func(n *graph.Node) {
		if n.Kind == graph.KindSource {
			sources = append(sources, n.ID)
		}
	})

	for _, action := range pb.Actions {
		for _, src := range sources {
			if !action.Matches(src.Path) {
				continue
			}
			if err := e.runPostAction(ctx, pb, action, src); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) runPostAction(ctx context.Context, pb *phase.PostBuildPhase, action *phase.PostAction, src assetid.ID) error {
	logger := ctxlog.FromContext(ctx)

	srcNode := e.graph.Get(src)
	anchorID := graph.AnchorID(src, action.Key)
	anchor := e.graph.Get(anchorID)
	if anchor == nil {
		anchor = graph.NewAnchorNode(anchorID, action.Key, src)
		e.graph.Add(anchor)
		srcNode.PrimaryOutputs.Add(anchorID)
	}

	if anchor.Digest == srcNode.Digest && anchor.Digest != "" {
		return nil
	}

	logger.Debug("Running post-process action.", "action", action.Key, "input", src.String())
	e.actionsRun++

	step := &buildStep{
		e:              e,
		phaseNum:       pb.Number,
		builderKey:     action.Key,
		hideOutput:     true,
		allowAnyOutput: true,
		input:          src,
		staging:        rw.NewStaging(),
		inputs:         assetid.Set{},
		unused:         assetid.Set{},
		canReadMemo:    map[assetid.ID]bool{},
	}

	buildErr := invokePostBuilder(ctx, action.Builder, step)
	if buildErr != nil {
		step.staging.Discard()
		e.failures = append(e.failures, StepFailure{
			Phase:   pb.Number,
			Builder: action.Key,
			Input:   src,
			Err:     buildErr,
		})
		logger.Error("Post-process step failed.", "action", action.Key, "input", src.String(), "error", buildErr)
		return nil
	}

	written := assetid.NewSet(step.staging.IDs()...)

	// Outputs from the previous run that were not rewritten go away.
	for old := range anchor.Anchor.Outputs {
		if !written.Contains(old) {
			if err := e.fs.Delete(old, true); err != nil {
				logger.Warn("Failed to delete stale post-process output.", "asset", old.String(), "error", err)
			}
		}
	}

	if err := step.staging.Commit(e.fs); err != nil {
		return fmt.Errorf("failed to commit post-process outputs of %s: %w", src.String(), err)
	}
	e.outputsWritten += len(step.staging.IDs())

	if err := e.graph.UpdatePostProcessBuildStep(anchorID, written); err != nil {
		return err
	}
	anchor.Digest = srcNode.Digest
	return nil
}

func invokePostBuilder(ctx context.Context, b builder.PostProcessBuilder, step builder.BuildStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("post-process builder panicked: %v", r)
		}
	}()
	return b.Build(ctx, step)
}
