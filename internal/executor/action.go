package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/builder"
	"github.com/vk/assetforge/internal/ctxlog"
	"github.com/vk/assetforge/internal/digest"
	"github.com/vk/assetforge/internal/graph"
	"github.com/vk/assetforge/internal/phase"
)

// runAction executes one builder invocation for (primaryInput, phase),
// unless it already completed in this build or an early cutoff applies.
// Re-entering an in-flight action means two actions demand each other,
// which is a fatal cycle.
func (e *Executor) runAction(ctx context.Context, ph *phase.InBuildPhase, input assetid.ID) error {
	logger := ctxlog.FromContext(ctx)
	key := actionKey{phase: ph.Number, input: input}

	if _, done := e.completed[key]; done {
		return nil
	}
	if _, running := e.inFlight[key]; running {
		return &builder.CycleError{Chain: append(append([]assetid.ID{}, e.chain...), input)}
	}

	outputs := ph.ExpectedOutputs(input)
	if len(outputs) == 0 {
		e.completed[key] = struct{}{}
		return nil
	}

	// In-flight marking happens before any recursion (parent demand, early
	// cutoff digesting) so mutual demand is caught as a cycle instead of
	// recursing forever.
	e.inFlight[key] = struct{}{}
	e.chain = append(e.chain, input)
	defer func() {
		delete(e.inFlight, key)
		e.chain = e.chain[:len(e.chain)-1]
	}()

	// A failed generated primary input fails its descendants without
	// running the builder; downstream must see them as absent.
	if parent := e.graph.Get(input); parent != nil && parent.Kind == graph.KindGenerated {
		if parentPh, err := e.phaseFor(parent); err == nil {
			if err := e.runAction(ctx, parentPh, parent.Generated.PrimaryInput); err != nil {
				return err
			}
		}
		if parent.Generated.State == graph.StateFailure {
			e.failOutputs(ctx, outputs, nil)
			e.completed[key] = struct{}{}
			return nil
		}
		// An overdeclared primary input never materialized, so there is
		// nothing to build from; the outputs stay overdeclared in turn.
		if parent.Generated.State == graph.StateSuccess && !parent.Generated.WasOutput {
			for _, out := range outputs {
				if n := e.graph.Get(out); n != nil && n.Kind == graph.KindGenerated {
					n.Generated.State = graph.StateSuccess
					n.Generated.WasOutput = false
					n.Generated.Dirty = false
					n.Digest = ""
				}
			}
			e.completed[key] = struct{}{}
			return nil
		}
	}

	if !e.needsRun(ctx, ph, outputs) {
		failed := false
		for _, out := range outputs {
			n := e.graph.Get(out)
			if n == nil || n.Kind != graph.KindGenerated {
				continue
			}
			n.Generated.Dirty = false
			failed = failed || n.Generated.State == graph.StateFailure
		}
		// A failure remembered from a previous build still fails this one
		// and gets its report line, without re-running the step.
		if failed {
			e.failures = append(e.failures, StepFailure{
				Phase:   ph.Number,
				Builder: ph.Key,
				Input:   input,
				Err:     fmt.Errorf("step failed in a previous build and its inputs are unchanged"),
			})
		}
		e.completed[key] = struct{}{}
		return nil
	}

	action := ph.For(input.Package)
	if action == nil {
		e.completed[key] = struct{}{}
		return nil
	}

	logger.Debug("Running build action.", "phase", ph.Number, "builder", ph.Key, "input", input.String())
	e.actionsRun++

	step := newBuildStep(e, ph, input, outputs)
	buildErr := invokeBuilder(ctx, action.Builder, step)

	if err := e.commitStep(ctx, ph, step, outputs, buildErr); err != nil {
		return err
	}
	e.completed[key] = struct{}{}
	return nil
}

// invokeBuilder calls the builder and converts panics into step failures so
// one misbehaving builder cannot take down the whole build.
func invokeBuilder(ctx context.Context, b builder.Builder, step builder.BuildStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("builder panicked: %v", r)
		}
	}()
	return b.Build(ctx, step)
}

// needsRun decides whether a dirty action truly has to execute. A clean
// action runs again only when one of its written outputs is missing from
// disk; a dirty one is skipped when the combined digest of its previously
// recorded inputs is unchanged (early cutoff).
func (e *Executor) needsRun(ctx context.Context, ph *phase.InBuildPhase, outputs []assetid.ID) bool {
	anyDirty := false
	for _, out := range outputs {
		n := e.graph.Get(out)
		if n == nil || n.Kind != graph.KindGenerated {
			return true
		}
		if n.Generated.State == graph.StatePending {
			return true
		}
		if n.Generated.Dirty {
			anyDirty = true
		}
		// A successful output that disappeared from disk must be rebuilt.
		if n.Generated.State == graph.StateSuccess && n.Generated.WasOutput && !e.fs.Exists(out, n.Generated.IsHidden) {
			return true
		}
	}
	if !anyDirty {
		return false
	}

	// All outputs of one action share the same input set; use the first.
	first := e.graph.Get(outputs[0])
	if first == nil || first.Kind != graph.KindGenerated || first.Generated.InputsDigest == "" {
		return true
	}
	digestInputs := first.Generated.Inputs.Clone()
	digestInputs.Add(first.Generated.PrimaryInput)
	current, ok := e.combinedInputsDigest(ctx, ph, digestInputs)
	if !ok {
		return true
	}
	if current == first.Generated.InputsDigest {
		ctxlog.FromContext(ctx).Debug("Early cutoff: inputs unchanged.", "output", outputs[0].String())
		return false
	}
	return true
}

// combinedInputsDigest folds the current digests of an input set into one
// value. Inputs produced by earlier phases are demanded first so their
// digests are current. Returns ok=false when any input state is unknowable
// without running the action.
func (e *Executor) combinedInputsDigest(ctx context.Context, ph *phase.InBuildPhase, inputs assetid.Set) (digest.Digest, bool) {
	h := sha256.New()
	for _, id := range inputs.Sorted() {
		n := e.graph.Get(id)
		if n == nil {
			// A recorded input no longer has a node: content unknowable.
			return "", false
		}
		switch n.Kind {
		case graph.KindGenerated:
			if n.Generated.Phase >= ph.Number {
				return "", false
			}
			producer, err := e.phaseFor(n)
			if err != nil {
				return "", false
			}
			if err := e.runAction(ctx, producer, n.Generated.PrimaryInput); err != nil {
				return "", false
			}
		}
		h.Write([]byte(id.String()))
		h.Write([]byte{0})
		h.Write([]byte(n.Digest))
		h.Write([]byte{0})
	}
	return digest.Digest(hex.EncodeToString(h.Sum(nil))), true
}

// failOutputs records a failure on every output node of an action, keeping
// the recorded inputs for future invalidation and removing stale files.
func (e *Executor) failOutputs(ctx context.Context, outputs []assetid.ID, inputs assetid.Set) {
	logger := ctxlog.FromContext(ctx)
	for _, out := range outputs {
		n := e.graph.Get(out)
		if n == nil || n.Kind != graph.KindGenerated {
			continue
		}
		if n.Generated.WasOutput {
			if err := e.fs.Delete(out, n.Generated.IsHidden); err != nil {
				logger.Warn("Failed to delete output of failed step.", "asset", out.String(), "error", err)
			}
		}
		n.Generated.State = graph.StateFailure
		n.Generated.WasOutput = false
		n.Generated.Dirty = false
		n.Digest = ""
		if inputs != nil {
			n.Generated.Inputs = inputs.Clone()
		}
	}
}

// commitStep applies a finished step atomically: on failure the staged
// writes are discarded and the failure recorded; on success the staged
// outputs are flushed, digests computed, and the node states updated.
func (e *Executor) commitStep(ctx context.Context, ph *phase.InBuildPhase, step *buildStep, outputs []assetid.ID, buildErr error) error {
	logger := ctxlog.FromContext(ctx)

	inputs := step.inputs.Clone()
	// A builder reading its own declared output never creates a self-edge.
	for _, out := range outputs {
		inputs.Remove(out)
	}
	// Reported-unused assets are dropped, but the primary input's existence
	// stays observed.
	for id := range step.unused {
		if id == step.input {
			continue
		}
		inputs.Remove(id)
	}

	if buildErr != nil {
		step.staging.Discard()
		e.failOutputs(ctx, outputs, inputs)
		e.failures = append(e.failures, StepFailure{
			Phase:   ph.Number,
			Builder: ph.Key,
			Input:   step.input,
			Err:     buildErr,
		})
		logger.Error("Build step failed.", "builder", ph.Key, "input", step.input.String(), "error", buildErr)
		return nil
	}

	// The primary input always participates in the inputs digest, whether or
	// not the builder read it, so its change can never be cut off early.
	digestInputs := inputs.Clone()
	digestInputs.Add(step.input)
	inputsDigest, _ := e.combinedInputsDigest(ctx, ph, digestInputs)

	if err := step.staging.Commit(e.fs); err != nil {
		return fmt.Errorf("failed to commit outputs of %s: %w", step.input.String(), err)
	}

	for _, out := range outputs {
		n := e.graph.Get(out)
		if n == nil || n.Kind != graph.KindGenerated {
			continue
		}
		gen := n.Generated
		gen.State = graph.StateSuccess
		gen.Dirty = false
		gen.Inputs = inputs.Clone()
		gen.InputsDigest = inputsDigest

		if content, ok := step.staging.Get(out); ok {
			gen.WasOutput = true
			n.Digest = digest.Compute(out, content)
			e.outputsWritten++
		} else {
			// Declared but unwritten: overdeclared. Never visible as an
			// input downstream. Stale bytes from a previous run go away.
			if gen.WasOutput {
				if err := e.fs.Delete(out, gen.IsHidden); err != nil {
					logger.Warn("Failed to delete stale output.", "asset", out.String(), "error", err)
				}
			}
			gen.WasOutput = false
			n.Digest = ""
		}
	}
	return nil
}
