package graph

import "strings"

// Chain groups link types that together form one traceability structure.
// Cycles are forbidden within a chain.
type Chain string

const (
	ChainMapping      Chain = "mapping"
	ChainTraceability Chain = "traceability"
	ChainRemediation  Chain = "remediation"
)

var chainOf = map[LinkType]Chain{
	LinkMapsTo:     ChainMapping,
	LinkSatisfies:  ChainMapping,
	LinkTests:      ChainTraceability,
	LinkImplements: ChainTraceability,
	LinkValidates:  ChainTraceability,
	LinkRemediates: ChainRemediation,
}

// Chain returns the chain a link type belongs to.
func (t LinkType) Chain() Chain { return chainOf[t] }

type kindPair struct{ source, target Kind }

var allowedPairs = map[LinkType][]kindPair{
	LinkMapsTo: {
		{KindPolicy, KindControl},
		{KindRequirement, KindControl},
	},
	LinkSatisfies: {
		{KindEvidence, KindControl},
		{KindEvidence, KindRequirement},
		{KindPolicy, KindRequirement},
	},
	LinkTests: {
		{KindRequirement, KindEvidence},
	},
	LinkImplements: {
		{KindEvidence, KindEvidence},
		{KindEvidence, KindControl},
	},
	LinkValidates: {
		{KindEvidence, KindEvidence},
		{KindEvidence, KindRequirement},
		{KindControl, KindEvidence},
		{KindControl, KindRequirement},
	},
	LinkRemediates: {
		{KindFinding, KindControl},
		{KindCorrectiveAction, KindFinding},
	},
}

// CheckKindPair reports whether a link of type t may connect source to
// target. Tests links additionally require the target evidence to be a test
// result.
func CheckKindPair(t LinkType, source, target *Artifact) bool {
	pairs, ok := allowedPairs[t]
	if !ok {
		return false
	}
	matched := false
	for _, p := range pairs {
		if p.source == source.Kind && p.target == target.Kind {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if t == LinkTests {
		return strings.EqualFold(target.StringAttr(AttrEvidenceType), EvidenceTypeTestResult)
	}
	return true
}

// ScoringLink reports whether links of type t count toward a control's
// compliance score.
func ScoringLink(t LinkType) bool {
	return t == LinkMapsTo || t == LinkSatisfies
}

// CheckArtifactShape validates kind and framework constraints on a new
// artifact.
func CheckArtifactShape(kind Kind, frameworkID string) error {
	if !kind.Valid() {
		return Errf("create_artifact", ErrInvalidKind, "", "%q", kind)
	}
	if kind == KindControl && frameworkID == "" {
		return Errf("create_artifact", ErrMissingFramework, "", "controls belong to a framework")
	}
	if kind == KindEvidence && frameworkID != "" {
		return Errf("create_artifact", ErrFrameworkForbidden, "", "evidence is framework independent")
	}
	return nil
}
