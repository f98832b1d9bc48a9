package graph

import (
	"fmt"
	"time"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/digest"
	"github.com/vk/assetforge/internal/pkggraph"
)

// Graph is the in-memory asset dependency graph. It is mutated by a single
// logical owner. A step's output writes are staged and applied on commit;
// the missing-source and glob nodes its reads discover are added to the
// graph as the reads happen.
type Graph struct {
	nodes map[assetid.ID]*Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[assetid.ID]*Node)}
}

// SourceInfo describes one scanned source file.
type SourceInfo struct {
	Digest  digest.Digest
	ModTime time.Time
}

// Build constructs the initial graph for a fresh build: source nodes for
// every scanned file, internal nodes for engine-owned inputs, and the
// whole-package placeholder nodes.
func Build(pkgs *pkggraph.Graph, sources map[assetid.ID]SourceInfo, internals map[assetid.ID]digest.Digest) *Graph {
	g := New()
	for id, info := range sources {
		g.Add(NewSourceNode(id, info.Digest, info.ModTime))
	}
	for id, dg := range internals {
		g.Add(NewInternalNode(id, dg))
	}
	for _, pkg := range pkgs.Names() {
		g.Add(NewPlaceholderNode(PlaceholderID(pkg)))
		g.Add(NewPlaceholderNode(LibPlaceholderID(pkg)))
	}
	return g
}

// Add inserts a node, replacing any previous node with the same ID.
func (g *Graph) Add(n *Node) {
	g.nodes[n.ID] = n
}

// Get returns the node for id, or nil.
func (g *Graph) Get(id assetid.ID) *Node {
	return g.nodes[id]
}

// Contains reports whether a node exists for id.
func (g *Graph) Contains(id assetid.ID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Remove deletes the node for id.
func (g *Graph) Remove(id assetid.ID) {
	delete(g.nodes, id)
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// IDs returns every node ID in stable order.
func (g *Graph) IDs() []assetid.ID {
	ids := make([]assetid.ID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	assetid.Sort(ids)
	return ids
}

// Nodes calls fn for every node in stable order.
func (g *Graph) Nodes(fn func(*Node)) {
	for _, id := range g.IDs() {
		fn(g.nodes[id])
	}
}

// UpdatePostProcessBuildStep replaces the output set owned by a post-process
// anchor.
func (g *Graph) UpdatePostProcessBuildStep(id assetid.ID, outputs assetid.Set) error {
	n := g.nodes[id]
	if n == nil || n.Kind != KindPostProcessAnchor {
		return fmt.Errorf("node %s is not a post-process anchor", id.String())
	}
	n.Anchor.Outputs = outputs.Clone()
	return nil
}

// ComputeOutputs builds the reverse index from an input asset to the
// generated nodes that recorded it as an input. The index is recomputed on
// demand and never stored.
func (g *Graph) ComputeOutputs() map[assetid.ID]assetid.Set {
	out := make(map[assetid.ID]assetid.Set)
	addEdge := func(input, consumer assetid.ID) {
		set, ok := out[input]
		if !ok {
			set = assetid.Set{}
			out[input] = set
		}
		set.Add(consumer)
	}
	for id, n := range g.nodes {
		switch n.Kind {
		case KindGenerated:
			for input := range n.Generated.Inputs {
				addEdge(input, id)
			}
			addEdge(n.Generated.PrimaryInput, id)
		case KindPostProcessAnchor:
			addEdge(n.Anchor.PrimaryInput, id)
		}
	}
	return out
}

// MarkDirty marks the generated node for id dirty and propagates through the
// transitive consumer closure from the supplied reverse index.
func (g *Graph) MarkDirty(id assetid.ID, outputs map[assetid.ID]assetid.Set) {
	seen := assetid.Set{}
	g.markDirty(id, outputs, seen)
}

func (g *Graph) markDirty(id assetid.ID, outputs map[assetid.ID]assetid.Set, seen assetid.Set) {
	if seen.Contains(id) {
		return
	}
	seen.Add(id)
	// Dirtiness is recorded without resetting the node state: the previous
	// state and inputs digest are what make early cutoff possible.
	if n := g.nodes[id]; n != nil && n.Kind == KindGenerated {
		n.Generated.Dirty = true
	}
	for consumer := range outputs[id] {
		g.markDirty(consumer, outputs, seen)
	}
}

// ReconcileSource applies a rescanned source state to the graph. An empty
// digest means the source was deleted: the node becomes a missingSource
// tombstone and all dependents are dirtied. A changed digest dirties the
// primary and transitive outputs.
func (g *Graph) ReconcileSource(id assetid.ID, newDigest digest.Digest, modTime time.Time, outputs map[assetid.ID]assetid.Set) {
	n := g.nodes[id]
	if newDigest == "" {
		if n == nil {
			return
		}
		tombstone := NewMissingSourceNode(id)
		tombstone.PrimaryOutputs = n.PrimaryOutputs
		g.nodes[id] = tombstone
		g.dirtyDependents(id, outputs)
		return
	}

	switch {
	case n == nil:
		g.Add(NewSourceNode(id, newDigest, modTime))
	case n.Kind == KindMissingSource:
		created := NewSourceNode(id, newDigest, modTime)
		created.PrimaryOutputs = n.PrimaryOutputs
		g.nodes[id] = created
		g.dirtyDependents(id, outputs)
	case n.Digest != newDigest:
		n.Digest = newDigest
		n.ModTime = modTime
		g.dirtyDependents(id, outputs)
	default:
		n.ModTime = modTime
	}
}

func (g *Graph) dirtyDependents(id assetid.ID, outputs map[assetid.ID]assetid.Set) {
	seen := assetid.Set{}
	seen.Add(id)
	if n := g.nodes[id]; n != nil {
		for out := range n.PrimaryOutputs {
			g.markDirty(out, outputs, seen)
		}
	}
	for consumer := range outputs[id] {
		g.markDirty(consumer, outputs, seen)
	}
}

// DropGenerated removes all generated, glob, and anchor state from the
// graph, as done before a full rebuild. Source primary-output links are
// cleared alongside.
func (g *Graph) DropGenerated() {
	for id, n := range g.nodes {
		switch n.Kind {
		case KindGenerated, KindGlob, KindPostProcessAnchor:
			delete(g.nodes, id)
		default:
			n.PrimaryOutputs = assetid.Set{}
		}
	}
}
