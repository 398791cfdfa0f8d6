package gaps

import (
	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// Reasons a traceability path is broken.
const (
	ReasonNoTests      = "no_tests"
	ReasonNoValidation = "no_validation"
	ReasonDepthLimit   = "depth_limit"
)

// BrokenChain is a maximal traceability path from a requirement that never
// reaches a validates link.
type BrokenChain struct {
	RequirementID string   `json:"requirement_id"`
	Path          []string `json:"path"`
	Links         []string `json:"links"`
	Reason        string   `json:"reason"`
}

// BrokenChains walks requirement -> tests -> implements* and reports every
// path that ends before a validates link. A requirement without tests
// yields the single path [requirement].
func BrokenChains(snap *graph.Snapshot, requirementID string) ([]BrokenChain, error) {
	req, ok := snap.Artifact(requirementID)
	if !ok || req.Retired() {
		return nil, graph.Errf("broken_chains", graph.ErrNotFound, requirementID, "")
	}
	if req.Kind != graph.KindRequirement {
		return nil, graph.Errf("broken_chains", graph.ErrInvalidArtifactKind, requirementID, "%s is not a requirement", req.Kind)
	}

	w := &chainWalker{snap: snap, root: requirementID, onPath: map[string]bool{}, result: []BrokenChain{}}
	w.walk(requirementID, []string{requirementID}, nil)
	return w.result, nil
}

type chainWalker struct {
	snap   *graph.Snapshot
	root   string
	onPath map[string]bool
	result []BrokenChain
}

func (w *chainWalker) walk(node string, path, links []string) {
	if len(w.snap.Outbound(node, graph.LinkValidates)) > 0 {
		return
	}
	if len(path) > MaxChainDepth {
		w.report(path, links, ReasonDepthLimit)
		return
	}

	step := graph.LinkImplements
	if node == w.root {
		step = graph.LinkTests
	}
	w.onPath[node] = true
	defer delete(w.onPath, node)

	advanced := false
	for _, l := range w.snap.Outbound(node, step) {
		if w.onPath[l.TargetID] {
			continue
		}
		advanced = true
		w.walk(l.TargetID, append(clone(path), l.TargetID), append(clone(links), l.ID))
	}
	if advanced {
		return
	}
	reason := ReasonNoValidation
	if node == w.root {
		reason = ReasonNoTests
	}
	w.report(path, links, reason)
}

func (w *chainWalker) report(path, links []string, reason string) {
	if links == nil {
		links = []string{}
	}
	w.result = append(w.result, BrokenChain{RequirementID: w.root, Path: path, Links: links, Reason: reason})
}

func clone(s []string) []string {
	out := make([]string, len(s), len(s)+1)
	copy(out, s)
	return out
}
