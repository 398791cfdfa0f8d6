// Package coverage derives link coverage, compliance scores and control risk
// indicators from a graph snapshot. Every function here is a pure function
// of (snapshot, asOf).
package coverage

import (
	"time"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// LinkCoverage explains how a link's coverage was reached.
type LinkCoverage struct {
	LinkID   string                    `json:"link_id"`
	Coverage graph.Coverage            `json:"coverage"`
	Asserted bool                      `json:"asserted"`
	Fresh    int                       `json:"fresh_attachments"`
	Stale    int                       `json:"stale_attachments"`
	Passing  int                       `json:"passing_attachments"`
	Latest   *graph.EvidenceAttachment `json:"latest,omitempty"`
	AsOf     time.Time                 `json:"as_of"`
}

// Calculator evaluates coverage and scores over snapshots.
type Calculator struct {
	eval *Evaluator
	// OnEvalError is called when the pass expression fails for an
	// attachment; the attachment then counts as not passing.
	OnEvalError func(att *graph.EvidenceAttachment, err error)
}

// NewCalculator returns a Calculator using eval to classify evidence.
func NewCalculator(eval *Evaluator) *Calculator {
	return &Calculator{eval: eval}
}

// Expression returns the pass expression evidence is judged by.
func (c *Calculator) Expression() string { return c.eval.Expression() }

// Explain derives the coverage of l at asOf. An asserted coverage wins;
// otherwise the link is full when a fresh attachment passes, partial when
// a fresh attachment exists and none otherwise. Attachments collected after
// asOf or backed by retired evidence are ignored.
func (c *Calculator) Explain(snap *graph.Snapshot, l *graph.Link, asOf time.Time) LinkCoverage {
	res := LinkCoverage{LinkID: l.ID, Coverage: graph.CoverageNone, AsOf: asOf}
	for _, att := range snap.Attachments(l.ID) {
		if att.CollectedAt.After(asOf) {
			continue
		}
		ev, ok := snap.Artifact(att.EvidenceID)
		if !ok || ev.Retired() {
			continue
		}
		res.Latest = att
		if att.StaleAt(asOf) {
			res.Stale++
			continue
		}
		res.Fresh++
		if c.passes(ev, att) {
			res.Passing++
		}
	}

	switch {
	case l.CoverageAsserted:
		res.Coverage = l.Coverage
		res.Asserted = true
	case res.Passing > 0:
		res.Coverage = graph.CoverageFull
	case res.Fresh > 0:
		res.Coverage = graph.CoveragePartial
	}
	return res
}

// Coverage is Explain without the detail.
func (c *Calculator) Coverage(snap *graph.Snapshot, l *graph.Link, asOf time.Time) graph.Coverage {
	return c.Explain(snap, l, asOf).Coverage
}

// passes evaluates the attachment attributes layered over the evidence
// artifact's own attributes.
func (c *Calculator) passes(ev *graph.Artifact, att *graph.EvidenceAttachment) bool {
	attrs := make(map[string]any, len(ev.Attributes)+len(att.Attributes))
	for k, v := range ev.Attributes {
		attrs[k] = v
	}
	for k, v := range att.Attributes {
		attrs[k] = v
	}
	ok, err := c.eval.Passes(attrs)
	if err != nil {
		if c.OnEvalError != nil {
			c.OnEvalError(att, err)
		}
		return false
	}
	return ok
}

// ControlScore returns 100 * sum(weight) / n over the live maps_to and
// satisfies links into a control, and n. A control without such links
// scores 0.
func (c *Calculator) ControlScore(snap *graph.Snapshot, controlID string, asOf time.Time) (float64, int) {
	sum, n := c.controlWeights(snap, controlID, asOf)
	if n == 0 {
		return 0, 0
	}
	return 100 * sum / float64(n), n
}

func (c *Calculator) controlWeights(snap *graph.Snapshot, controlID string, asOf time.Time) (float64, int) {
	links := snap.Inbound(controlID, graph.LinkMapsTo, graph.LinkSatisfies)
	var sum float64
	for _, l := range links {
		sum += c.Coverage(snap, l, asOf).Weight()
	}
	return sum, len(links)
}

// PolicyScore averages the scores of the controls a policy maps to, each
// weighted by its number of inbound scoring links. keep restricts which
// controls count; nil keeps all. It also returns the number of mapped
// controls.
func (c *Calculator) PolicyScore(snap *graph.Snapshot, policyID string, asOf time.Time, keep func(*graph.Artifact) bool) (float64, int) {
	var (
		sum      float64
		links    int
		controls int
	)
	seen := make(map[string]bool)
	for _, l := range snap.Outbound(policyID, graph.LinkMapsTo) {
		ctrl, ok := snap.Artifact(l.TargetID)
		if !ok || ctrl.Kind != graph.KindControl || seen[ctrl.ID] {
			continue
		}
		if keep != nil && !keep(ctrl) {
			continue
		}
		seen[ctrl.ID] = true
		w, n := c.controlWeights(snap, ctrl.ID, asOf)
		sum += w
		links += n
		controls++
	}
	if links == 0 {
		return 0, controls
	}
	return 100 * sum / float64(links), controls
}

// FrameworkScore is the simple average of the scores of a framework's
// active controls, and the number of those controls.
func (c *Calculator) FrameworkScore(snap *graph.Snapshot, frameworkID string, asOf time.Time) (float64, int) {
	var (
		total float64
		count int
	)
	for _, ctrl := range snap.Controls(frameworkID) {
		if ctrl.Lifecycle != graph.LifecycleActive {
			continue
		}
		s, _ := c.ControlScore(snap, ctrl.ID, asOf)
		total += s
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return total / float64(count), count
}
