package graph

import (
	"strconv"
	"time"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/digest"
)

// Kind discriminates the node union. All downstream code branches on it.
type Kind string

const (
	// KindSource is an on-disk input discovered by the package scan.
	KindSource Kind = "source"
	// KindGenerated is an asset produced by a builder.
	KindGenerated Kind = "generated"
	// KindMissingSource is a tombstone for an asset that was read but does
	// not exist, retained so its later creation triggers invalidation.
	KindMissingSource Kind = "missingSource"
	// KindInternal marks engine-owned inputs that affect the whole build.
	KindInternal Kind = "internal"
	// KindGlob records a resolved glob pattern and its match set.
	KindGlob Kind = "glob"
	// KindPlaceholder is a synthetic whole-package input such as $package$.
	KindPlaceholder Kind = "placeholder"
	// KindPostProcessAnchor owns the outputs of one (source, action) pair.
	KindPostProcessAnchor Kind = "postProcessAnchor"
)

// State is the lifecycle state of a generated node.
type State string

const (
	// StatePending means the producing action has not run in this build.
	StatePending State = "pending"
	// StateSuccess means the producing action completed.
	StateSuccess State = "success"
	// StateFailure means the producing action threw, or inherited a failure
	// from its primary input.
	StateFailure State = "failure"
)

// Node is one entry in the asset graph. Exactly one payload pointer is
// non-nil for the kinds that carry one.
type Node struct {
	ID   assetid.ID
	Kind Kind

	// Digest is empty while unknown (pending or failed generated nodes,
	// missing sources).
	Digest digest.Digest

	// ModTime is the last observed mtime of a source, used to skip digest
	// recomputation for untouched files. Zero when unavailable.
	ModTime time.Time

	// PrimaryOutputs holds the IDs of generated nodes whose primary input
	// this node is.
	PrimaryOutputs assetid.Set

	Generated *GeneratedState
	Glob      *GlobState
	Anchor    *AnchorState
}

// GeneratedState is the payload of a generated node.
type GeneratedState struct {
	// Phase is the number of the producing build phase.
	Phase int
	// Builder is the key of the producing builder application.
	Builder string
	// PrimaryInput is the asset that caused the builder to run.
	PrimaryInput assetid.ID
	// IsHidden means the output lives in the engine cache and is only
	// visible to later phases that explicitly read it.
	IsHidden bool
	// WasOutput records whether the builder actually wrote this output. A
	// declared-but-unwritten output is overdeclared and must never be
	// treated as an input downstream.
	WasOutput bool
	// State tracks pending/success/failure.
	State State
	// Dirty marks the node for rebuild in the next scheduler pass.
	Dirty bool
	// Inputs is the set of assets read while producing this output.
	Inputs assetid.Set
	// InputsDigest is the combined digest of all inputs at the last run,
	// used for early cutoff: a dirty node whose inputs digest is unchanged
	// is not re-run.
	InputsDigest digest.Digest
}

// GlobState is the payload of a glob node.
type GlobState struct {
	// Phase is the phase at which the glob was resolved; the match set only
	// contains sources and outputs of earlier phases.
	Phase int
	// Package scopes the pattern.
	Package string
	// Pattern is the doublestar glob.
	Pattern string
	// Results is the resolved match set in stable order.
	Results []assetid.ID
}

// AnchorState is the payload of a post-process anchor node.
type AnchorState struct {
	// Action is the key of the post-process builder.
	Action string
	// PrimaryInput is the source the action applies to.
	PrimaryInput assetid.ID
	// Outputs are the hidden outputs owned by this anchor.
	Outputs assetid.Set
}

// NewSourceNode creates a source node with a known digest and mtime.
func NewSourceNode(id assetid.ID, dg digest.Digest, modTime time.Time) *Node {
	return &Node{
		ID:             id,
		Kind:           KindSource,
		Digest:         dg,
		ModTime:        modTime,
		PrimaryOutputs: assetid.Set{},
	}
}

// NewGeneratedNode creates a pending generated node for a builder
// application.
func NewGeneratedNode(id assetid.ID, phase int, builderKey string, primaryInput assetid.ID, hidden bool) *Node {
	return &Node{
		ID:             id,
		Kind:           KindGenerated,
		PrimaryOutputs: assetid.Set{},
		Generated: &GeneratedState{
			Phase:        phase,
			Builder:      builderKey,
			PrimaryInput: primaryInput,
			IsHidden:     hidden,
			State:        StatePending,
			Dirty:        true,
			Inputs:       assetid.Set{},
		},
	}
}

// NewMissingSourceNode creates the tombstone for an asset that was read but
// does not exist.
func NewMissingSourceNode(id assetid.ID) *Node {
	return &Node{ID: id, Kind: KindMissingSource, PrimaryOutputs: assetid.Set{}}
}

// NewInternalNode creates an engine-owned input node.
func NewInternalNode(id assetid.ID, dg digest.Digest) *Node {
	return &Node{ID: id, Kind: KindInternal, Digest: dg, PrimaryOutputs: assetid.Set{}}
}

// NewGlobNode creates a resolved glob node. The node digest covers the
// match set, so a changed set reads as a changed input to its consumers.
func NewGlobNode(id assetid.ID, phase int, pkg, pattern string, results []assetid.ID) *Node {
	assetid.Sort(results)
	var joined []byte
	for _, r := range results {
		joined = append(joined, r.String()...)
		joined = append(joined, '\n')
	}
	return &Node{
		ID:     id,
		Kind:   KindGlob,
		Digest: digest.Compute(id, joined),
		Glob:   &GlobState{Phase: phase, Package: pkg, Pattern: pattern, Results: results},
	}
}

// NewPlaceholderNode creates a synthetic whole-package input node.
func NewPlaceholderNode(id assetid.ID) *Node {
	return &Node{ID: id, Kind: KindPlaceholder, PrimaryOutputs: assetid.Set{}}
}

// NewAnchorNode creates the anchor owning one (source, action) pair's
// post-process outputs.
func NewAnchorNode(id assetid.ID, action string, primaryInput assetid.ID) *Node {
	return &Node{
		ID:     id,
		Kind:   KindPostProcessAnchor,
		Anchor: &AnchorState{Action: action, PrimaryInput: primaryInput, Outputs: assetid.Set{}},
	}
}

// PlaceholderID returns the synthetic whole-package primary input for pkg.
func PlaceholderID(pkg string) assetid.ID {
	return assetid.ID{Package: pkg, Path: "$package$"}
}

// LibPlaceholderID returns the synthetic lib-tree primary input for pkg.
func LibPlaceholderID(pkg string) assetid.ID {
	return assetid.ID{Package: pkg, Path: "lib/$lib$"}
}

// GlobID derives the node identity for a glob resolved at a phase.
func GlobID(pkg string, phase int, pattern string) assetid.ID {
	return assetid.ID{Package: pkg, Path: "glob." + strconv.Itoa(phase) + "." + pattern}
}

// AnchorID derives the node identity for a (source, action) post-process
// anchor.
func AnchorID(input assetid.ID, action string) assetid.ID {
	return assetid.ID{Package: input.Package, Path: input.Path + "." + action + ".post_anchor"}
}
