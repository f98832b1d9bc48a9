package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/digest"
)

func srcID(path string) assetid.ID { return assetid.New("a", path) }

// buildTestGraph wires one source -> generated -> generated chain plus an
// unrelated source.
func buildTestGraph(t *testing.T) (*Graph, assetid.ID, assetid.ID, assetid.ID) {
	t.Helper()
	g := New()

	src := srcID("web/a.txt")
	gen1 := srcID("web/a.txt.copy")
	gen2 := srcID("web/a.txt.copy.clone")

	srcNode := NewSourceNode(src, digest.Compute(src, []byte("a")), time.Now())
	srcNode.PrimaryOutputs.Add(gen1)
	g.Add(srcNode)

	gen1Node := NewGeneratedNode(gen1, 1, "copy", src, false)
	gen1Node.Generated.State = StateSuccess
	gen1Node.Generated.Dirty = false
	gen1Node.Generated.WasOutput = true
	gen1Node.Generated.Inputs.Add(src)
	gen1Node.Digest = digest.Compute(gen1, []byte("a"))
	gen1Node.PrimaryOutputs.Add(gen2)
	g.Add(gen1Node)

	gen2Node := NewGeneratedNode(gen2, 2, "clone", gen1, false)
	gen2Node.Generated.State = StateSuccess
	gen2Node.Generated.Dirty = false
	gen2Node.Generated.WasOutput = true
	gen2Node.Generated.Inputs.Add(gen1)
	g.Add(gen2Node)

	other := srcID("web/other.txt")
	g.Add(NewSourceNode(other, digest.Compute(other, []byte("x")), time.Now()))

	return g, src, gen1, gen2
}

func TestComputeOutputs(t *testing.T) {
	g, src, gen1, gen2 := buildTestGraph(t)

	outputs := g.ComputeOutputs()
	assert.True(t, outputs[src].Contains(gen1))
	assert.True(t, outputs[gen1].Contains(gen2))
	assert.Empty(t, outputs[gen2])
}

func TestBidirectionalConsistency(t *testing.T) {
	g, src, gen1, _ := buildTestGraph(t)

	// For every generated node g with primaryInput s, s.primaryOutputs must
	// contain g.id.
	g.Nodes(func(n *Node) {
		if n.Kind != KindGenerated {
			return
		}
		parent := g.Get(n.Generated.PrimaryInput)
		require.NotNil(t, parent, "primary input %s must exist", n.Generated.PrimaryInput.String())
		assert.True(t, parent.PrimaryOutputs.Contains(n.ID))
	})
	assert.True(t, g.Get(src).PrimaryOutputs.Contains(gen1))
}

func TestMarkDirtyPropagates(t *testing.T) {
	g, _, gen1, gen2 := buildTestGraph(t)

	g.MarkDirty(gen1, g.ComputeOutputs())

	assert.True(t, g.Get(gen1).Generated.Dirty)
	assert.True(t, g.Get(gen2).Generated.Dirty, "dirtiness must reach the transitive consumer closure")
}

func TestReconcileSourceDigestChange(t *testing.T) {
	g, src, gen1, gen2 := buildTestGraph(t)

	g.ReconcileSource(src, digest.Compute(src, []byte("changed")), time.Now(), g.ComputeOutputs())

	assert.True(t, g.Get(gen1).Generated.Dirty)
	assert.True(t, g.Get(gen2).Generated.Dirty)
}

func TestReconcileSourceUnchangedDigestStaysClean(t *testing.T) {
	g, src, gen1, _ := buildTestGraph(t)

	g.ReconcileSource(src, digest.Compute(src, []byte("a")), time.Now(), g.ComputeOutputs())

	assert.False(t, g.Get(gen1).Generated.Dirty)
}

func TestReconcileSourceDeletion(t *testing.T) {
	g, src, gen1, gen2 := buildTestGraph(t)

	g.ReconcileSource(src, "", time.Time{}, g.ComputeOutputs())

	tombstone := g.Get(src)
	require.NotNil(t, tombstone)
	assert.Equal(t, KindMissingSource, tombstone.Kind)
	assert.True(t, tombstone.PrimaryOutputs.Contains(gen1), "tombstone keeps primary output links")
	assert.True(t, g.Get(gen1).Generated.Dirty)
	assert.True(t, g.Get(gen2).Generated.Dirty)
}

func TestReconcileSourceReappears(t *testing.T) {
	g, src, gen1, _ := buildTestGraph(t)

	g.ReconcileSource(src, "", time.Time{}, g.ComputeOutputs())
	g.Get(gen1).Generated.Dirty = false

	g.ReconcileSource(src, digest.Compute(src, []byte("back")), time.Now(), g.ComputeOutputs())
	assert.Equal(t, KindSource, g.Get(src).Kind)
	assert.True(t, g.Get(gen1).Generated.Dirty, "a reappearing source dirties its dependents")
}

func TestSerializeRoundTrip(t *testing.T) {
	g, _, _, _ := buildTestGraph(t)
	g.Add(NewGlobNode(GlobID("a", 1, "web/**"), 1, "a", "web/**", []assetid.ID{srcID("web/a.txt")}))
	g.Add(NewAnchorNode(AnchorID(srcID("web/a.txt"), "minify"), "minify", srcID("web/a.txt")))
	g.Add(NewInternalNode(assetid.New("a", "build.hcl"), "deadbeef"))
	g.Add(NewPlaceholderNode(PlaceholderID("a")))
	g.Add(NewMissingSourceNode(srcID("web/ghost.txt")))

	raw, err := g.Serialize()
	require.NoError(t, err)

	decoded, err := Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, g.Len(), decoded.Len())

	// Structural equality via re-serialization: identical graphs serialize
	// to identical bytes.
	raw2, err := decoded.Serialize()
	require.NoError(t, err)
	assert.Equal(t, string(raw), string(raw2))
}

func TestDeserializeVersionGate(t *testing.T) {
	g := New()
	raw, err := g.Serialize()
	require.NoError(t, err)

	tampered := []byte(`{"version":99,"nodes":[]}`)
	_, err = Deserialize(tampered)
	require.ErrorIs(t, err, ErrVersionMismatch)

	// The current version still loads.
	_, err = Deserialize(raw)
	require.NoError(t, err)
}

func TestDropGenerated(t *testing.T) {
	g, src, gen1, gen2 := buildTestGraph(t)
	g.Add(NewGlobNode(GlobID("a", 1, "web/**"), 1, "a", "web/**", nil))

	g.DropGenerated()

	assert.Nil(t, g.Get(gen1))
	assert.Nil(t, g.Get(gen2))
	assert.NotNil(t, g.Get(src))
	assert.Empty(t, g.Get(src).PrimaryOutputs)
	g.Nodes(func(n *Node) {
		assert.NotEqual(t, KindGenerated, n.Kind)
		assert.NotEqual(t, KindGlob, n.Kind)
	})
}
