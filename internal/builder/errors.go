package builder

import (
	"fmt"

	"github.com/vk/assetforge/internal/assetid"
)

// CannotBuildError is a setup-time failure: a builder factory threw or a
// phase configuration is invalid. It aborts the whole build before any step
// runs.
type CannotBuildError struct {
	Reason string
	Err    error
}

func (e *CannotBuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot build: %s: %v", e.Reason, e.Err)
	}
	return "cannot build: " + e.Reason
}

func (e *CannotBuildError) Unwrap() error { return e.Err }

// ExtensionsError reports statically conflicting build extensions: a builder
// whose output extension would feed back into an input extension. Fatal at
// configuration time.
type ExtensionsError struct {
	BuilderKey string
	InputExt   string
	OutputExt  string
}

func (e *ExtensionsError) Error() string {
	return fmt.Sprintf("builder %q: output extension %q overlaps input extension %q",
		e.BuilderKey, e.OutputExt, e.InputExt)
}

// InvalidInputError reports a read of an asset outside the step's allowed
// visibility. It is surfaced to the step and does not by itself fail the
// build.
type InvalidInputError struct {
	ID     assetid.ID
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.ID.String(), e.Reason)
}

// AssetNotFoundError reports an explicit read of an asset that does not
// exist. Callers that want a soft check use CanRead first.
type AssetNotFoundError struct {
	ID assetid.ID
}

func (e *AssetNotFoundError) Error() string {
	return fmt.Sprintf("asset not found: %s", e.ID.String())
}

// CycleError reports a dependency cycle between builder actions. Any cycle
// spanning more than one action is a fatal configuration error.
type CycleError struct {
	Chain []assetid.ID
}

func (e *CycleError) Error() string {
	msg := "dependency cycle between build actions:"
	for _, id := range e.Chain {
		msg += " " + id.String()
	}
	return msg
}

// UnexpectedOutputError reports a write to an asset outside the step's
// allowed outputs.
type UnexpectedOutputError struct {
	ID assetid.ID
}

func (e *UnexpectedOutputError) Error() string {
	return fmt.Sprintf("write to undeclared output: %s", e.ID.String())
}

// ConflictingOutputError reports a declared non-hidden output that already
// exists on disk as a source file. Resolved by --delete-conflicting-outputs.
type ConflictingOutputError struct {
	ID assetid.ID
}

func (e *ConflictingOutputError) Error() string {
	return fmt.Sprintf("conflicting output %s already exists on disk; rerun with --delete-conflicting-outputs to overwrite", e.ID.String())
}
