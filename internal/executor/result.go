package executor

import (
	"github.com/vk/assetforge/internal/assetid"
)

// StepFailure describes one failed builder invocation.
type StepFailure struct {
	Phase   int
	Builder string
	Input   assetid.ID
	Err     error
}

// Result summarizes one build pass.
type Result struct {
	// Succeeded is false when at least one step failure remains after
	// on-demand escalation.
	Succeeded bool
	// Failures holds one entry per failed step.
	Failures []StepFailure
	// ActionsRun counts builder invocations that actually executed.
	ActionsRun int
	// OutputsWritten counts outputs committed to disk.
	OutputsWritten int
}
