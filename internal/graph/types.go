// Package graph defines the compliance traceability model: artifacts, typed
// links between them, and the evidence attachments that back links.
package graph

import "time"

// Kind identifies what an artifact represents.
type Kind string

const (
	KindPolicy           Kind = "policy"
	KindControl          Kind = "control"
	KindEvidence         Kind = "evidence"
	KindRequirement      Kind = "requirement"
	KindFinding          Kind = "finding"
	KindCorrectiveAction Kind = "corrective_action"
)

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPolicy, KindControl, KindEvidence, KindRequirement, KindFinding, KindCorrectiveAction:
		return true
	}
	return false
}

// Lifecycle is the lifecycle state of an artifact.
type Lifecycle string

const (
	LifecycleDraft   Lifecycle = "draft"
	LifecycleActive  Lifecycle = "active"
	LifecycleRetired Lifecycle = "retired"
)

// LinkType identifies the relationship a link expresses.
type LinkType string

const (
	LinkMapsTo     LinkType = "maps_to"
	LinkSatisfies  LinkType = "satisfies"
	LinkTests      LinkType = "tests"
	LinkImplements LinkType = "implements"
	LinkValidates  LinkType = "validates"
	LinkRemediates LinkType = "remediates"
)

// Valid reports whether t is a known link type.
func (t LinkType) Valid() bool {
	_, ok := chainOf[t]
	return ok
}

// Coverage is the qualitative strength of the evidence behind a link.
type Coverage string

const (
	CoverageNone    Coverage = "none"
	CoveragePartial Coverage = "partial"
	CoverageFull    Coverage = "full"
)

// Valid reports whether c is a known coverage level.
func (c Coverage) Valid() bool {
	return c == CoverageNone || c == CoveragePartial || c == CoverageFull
}

// Weight is the contribution of a coverage level to a compliance score.
func (c Coverage) Weight() float64 {
	switch c {
	case CoverageFull:
		return 1
	case CoveragePartial:
		return 0.5
	default:
		return 0
	}
}

// EvidenceSource records how an attachment was obtained.
type EvidenceSource string

const (
	SourceManual      EvidenceSource = "manual"
	SourceIntegration EvidenceSource = "integration"
)

// Valid reports whether s is a known evidence source.
func (s EvidenceSource) Valid() bool {
	return s == SourceManual || s == SourceIntegration
}

// Attribute keys with meaning to the engine. Everything else in an
// artifact's attributes is opaque.
const (
	AttrTitle        = "title"
	AttrEvidenceType = "evidence_type"
	AttrSeverity     = "severity"
	AttrStatus       = "status"
	AttrResult       = "result"

	EvidenceTypeTestResult = "test_result"
)

// Artifact is a first-class compliance object.
type Artifact struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	FrameworkID string         `json:"framework_id,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Lifecycle   Lifecycle      `json:"lifecycle"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int64          `json:"version"`
}

// Retired reports whether the artifact has been tombstoned.
func (a *Artifact) Retired() bool { return a.Lifecycle == LifecycleRetired }

// Title returns the artifact's title attribute, or its id.
func (a *Artifact) Title() string {
	if s, ok := a.Attributes[AttrTitle].(string); ok && s != "" {
		return s
	}
	return a.ID
}

// StringAttr returns a string attribute or "".
func (a *Artifact) StringAttr(key string) string {
	s, _ := a.Attributes[key].(string)
	return s
}

// Link is a typed directed edge between two artifacts.
type Link struct {
	ID               string    `json:"id"`
	SourceID         string    `json:"source_id"`
	TargetID         string    `json:"target_id"`
	Type             LinkType  `json:"type"`
	Coverage         Coverage  `json:"coverage"`
	CoverageAsserted bool      `json:"coverage_asserted"`
	LastReviewed     time.Time `json:"last_reviewed"`
	Retired          bool      `json:"retired"`
	CreatedAt        time.Time `json:"created_at"`
	Version          int64     `json:"version"`
}

// EvidenceAttachment binds an evidence artifact to a link.
type EvidenceAttachment struct {
	ID              string         `json:"id"`
	LinkID          string         `json:"link_id"`
	EvidenceID      string         `json:"evidence_id"`
	CollectedAt     time.Time      `json:"collected_at"`
	ValidUntil      *time.Time     `json:"valid_until,omitempty"`
	Source          EvidenceSource `json:"source"`
	FreshnessWindow time.Duration  `json:"freshness_window"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Version         int64          `json:"version"`
}

// ExpiresAt returns the instant after which the attachment is stale.
func (e *EvidenceAttachment) ExpiresAt() time.Time {
	if e.ValidUntil != nil {
		return *e.ValidUntil
	}
	return e.CollectedAt.Add(e.FreshnessWindow)
}

// StaleAt reports whether the attachment is stale as of t.
func (e *EvidenceAttachment) StaleAt(t time.Time) bool {
	return t.After(e.ExpiresAt())
}
