package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vk/assetforge/internal/assetid"
	"github.com/vk/assetforge/internal/digest"
)

// Version is the current serialization format version. Any stored graph with
// a different version is discarded and a full rebuild is forced; the format
// is never migrated.
const Version = 1

// ErrVersionMismatch is returned by Deserialize when the stored version is
// not exactly the current one.
var ErrVersionMismatch = errors.New("asset graph version mismatch")

type serializedGraph struct {
	Version int              `json:"version"`
	Nodes   []serializedNode `json:"nodes"`
}

type serializedNode struct {
	ID             string           `json:"id"`
	Kind           Kind             `json:"kind"`
	Digest         digest.Digest    `json:"digest,omitempty"`
	ModTimeNanos   int64            `json:"modTime,omitempty"`
	PrimaryOutputs []string         `json:"primaryOutputs,omitempty"`
	Generated      *serializedGen   `json:"generated,omitempty"`
	Glob           *serializedGlob  `json:"glob,omitempty"`
	Anchor         *serializedAnchr `json:"anchor,omitempty"`
}

type serializedGen struct {
	Phase        int           `json:"phase"`
	Builder      string        `json:"builder"`
	PrimaryInput string        `json:"primaryInput"`
	IsHidden     bool          `json:"isHidden,omitempty"`
	WasOutput    bool          `json:"wasOutput,omitempty"`
	State        State         `json:"state"`
	Inputs       []string      `json:"inputs,omitempty"`
	InputsDigest digest.Digest `json:"inputsDigest,omitempty"`
}

type serializedGlob struct {
	Phase   int      `json:"phase"`
	Package string   `json:"package"`
	Pattern string   `json:"pattern"`
	Results []string `json:"results,omitempty"`
}

type serializedAnchr struct {
	Action       string   `json:"action"`
	PrimaryInput string   `json:"primaryInput"`
	Outputs      []string `json:"outputs,omitempty"`
}

// Serialize encodes the graph as versioned, self-describing JSON with nodes
// in stable order, so identical graphs serialize to identical bytes.
func (g *Graph) Serialize() ([]byte, error) {
	sg := serializedGraph{Version: Version}
	for _, id := range g.IDs() {
		n := g.nodes[id]
		sn := serializedNode{
			ID:             n.ID.String(),
			Kind:           n.Kind,
			Digest:         n.Digest,
			PrimaryOutputs: idStrings(n.PrimaryOutputs.Sorted()),
		}
		if !n.ModTime.IsZero() {
			sn.ModTimeNanos = n.ModTime.UnixNano()
		}
		if n.Generated != nil {
			sn.Generated = &serializedGen{
				Phase:        n.Generated.Phase,
				Builder:      n.Generated.Builder,
				PrimaryInput: n.Generated.PrimaryInput.String(),
				IsHidden:     n.Generated.IsHidden,
				WasOutput:    n.Generated.WasOutput,
				State:        n.Generated.State,
				Inputs:       idStrings(n.Generated.Inputs.Sorted()),
				InputsDigest: n.Generated.InputsDigest,
			}
		}
		if n.Glob != nil {
			sn.Glob = &serializedGlob{
				Phase:   n.Glob.Phase,
				Package: n.Glob.Package,
				Pattern: n.Glob.Pattern,
				Results: idStrings(n.Glob.Results),
			}
		}
		if n.Anchor != nil {
			sn.Anchor = &serializedAnchr{
				Action:       n.Anchor.Action,
				PrimaryInput: n.Anchor.PrimaryInput.String(),
				Outputs:      idStrings(n.Anchor.Outputs.Sorted()),
			}
		}
		sg.Nodes = append(sg.Nodes, sn)
	}
	return json.MarshalIndent(sg, "", " ")
}

// Deserialize decodes a stored graph. A stored version different from the
// current one yields ErrVersionMismatch; callers respond with a full
// rebuild.
func Deserialize(raw []byte) (*Graph, error) {
	var sg serializedGraph
	if err := json.Unmarshal(raw, &sg); err != nil {
		return nil, fmt.Errorf("failed to decode asset graph: %w", err)
	}
	if sg.Version != Version {
		return nil, fmt.Errorf("%w: stored %d, current %d", ErrVersionMismatch, sg.Version, Version)
	}

	g := New()
	for _, sn := range sg.Nodes {
		id, _, err := assetid.Parse(sn.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to decode asset graph node id: %w", err)
		}
		n := &Node{
			ID:     id,
			Kind:   sn.Kind,
			Digest: sn.Digest,
		}
		if sn.ModTimeNanos != 0 {
			n.ModTime = time.Unix(0, sn.ModTimeNanos)
		}
		if sn.Kind != KindGlob {
			n.PrimaryOutputs, err = idSet(sn.PrimaryOutputs)
			if err != nil {
				return nil, err
			}
		}
		if sn.Generated != nil {
			primary, _, err := assetid.Parse(sn.Generated.PrimaryInput)
			if err != nil {
				return nil, err
			}
			inputs, err := idSet(sn.Generated.Inputs)
			if err != nil {
				return nil, err
			}
			n.Generated = &GeneratedState{
				Phase:        sn.Generated.Phase,
				Builder:      sn.Generated.Builder,
				PrimaryInput: primary,
				IsHidden:     sn.Generated.IsHidden,
				WasOutput:    sn.Generated.WasOutput,
				State:        sn.Generated.State,
				Inputs:       inputs,
				InputsDigest: sn.Generated.InputsDigest,
			}
		}
		if sn.Glob != nil {
			results, err := idList(sn.Glob.Results)
			if err != nil {
				return nil, err
			}
			n.Glob = &GlobState{
				Phase:   sn.Glob.Phase,
				Package: sn.Glob.Package,
				Pattern: sn.Glob.Pattern,
				Results: results,
			}
		}
		if sn.Anchor != nil {
			primary, _, err := assetid.Parse(sn.Anchor.PrimaryInput)
			if err != nil {
				return nil, err
			}
			outputs, err := idSet(sn.Anchor.Outputs)
			if err != nil {
				return nil, err
			}
			n.Anchor = &AnchorState{
				Action:       sn.Anchor.Action,
				PrimaryInput: primary,
				Outputs:      outputs,
			}
		}
		g.Add(n)
	}
	return g, nil
}

func idStrings(ids []assetid.ID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func idList(raw []string) ([]assetid.ID, error) {
	out := make([]assetid.ID, 0, len(raw))
	for _, s := range raw {
		id, _, err := assetid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func idSet(raw []string) (assetid.Set, error) {
	out := assetid.Set{}
	for _, s := range raw {
		id, _, err := assetid.Parse(s)
		if err != nil {
			return nil, err
		}
		out.Add(id)
	}
	return out, nil
}
