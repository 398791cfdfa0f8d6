package coverage

import (
	"strings"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// Severity modifiers subtracted from a control's risk indicator per open
// finding.
var severityModifier = map[string]int{
	"critical": 40,
	"high":     25,
	"medium":   10,
	"low":      5,
}

const unknownSeverityModifier = 10

var (
	closedFindingStatus = map[string]bool{"closed": true, "resolved": true}
	doneActionStatus    = map[string]bool{"completed": true, "verified": true, "closed": true}
)

// Risk is a control's risk indicator. It is reported next to, never folded
// into, the compliance score.
type Risk struct {
	ControlID    string        `json:"control_id"`
	Indicator    int           `json:"indicator"`
	Level        string        `json:"level"`
	OpenFindings []OpenFinding `json:"open_findings"`
}

// OpenFinding is a finding that still counts against a control.
type OpenFinding struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Severity string `json:"severity"`
	Modifier int    `json:"modifier"`
}

// RiskOf computes the risk indicator of a control: 100 minus the severity
// modifiers of every open finding remediating it, floored at 0.
func RiskOf(snap *graph.Snapshot, controlID string) Risk {
	r := Risk{ControlID: controlID, Indicator: 100, OpenFindings: []OpenFinding{}}
	for _, l := range snap.Inbound(controlID, graph.LinkRemediates) {
		f, ok := snap.Artifact(l.SourceID)
		if !ok || f.Kind != graph.KindFinding || findingClosed(snap, f) {
			continue
		}
		sev := strings.ToLower(f.StringAttr(graph.AttrSeverity))
		mod, known := severityModifier[sev]
		if !known {
			mod = unknownSeverityModifier
		}
		r.Indicator -= mod
		r.OpenFindings = append(r.OpenFindings, OpenFinding{ID: f.ID, Title: f.Title(), Severity: sev, Modifier: mod})
	}
	if r.Indicator < 0 {
		r.Indicator = 0
	}
	r.Level = riskLevel(r.Indicator)
	return r
}

func findingClosed(snap *graph.Snapshot, f *graph.Artifact) bool {
	if f.Retired() || closedFindingStatus[strings.ToLower(f.StringAttr(graph.AttrStatus))] {
		return true
	}
	for _, l := range snap.Inbound(f.ID, graph.LinkRemediates) {
		ca, ok := snap.Artifact(l.SourceID)
		if ok && ca.Kind == graph.KindCorrectiveAction && doneActionStatus[strings.ToLower(ca.StringAttr(graph.AttrStatus))] {
			return true
		}
	}
	return false
}

func riskLevel(indicator int) string {
	switch {
	case indicator >= 80:
		return "low"
	case indicator >= 50:
		return "medium"
	case indicator >= 20:
		return "high"
	default:
		return "critical"
	}
}
