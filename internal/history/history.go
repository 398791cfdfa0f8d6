// Package history records an immutable trail of every graph write.
package history

import "time"

// Action describes what a write did.
type Action string

const (
	ActionArtifactCreated  Action = "artifact_created"
	ActionArtifactUpdated  Action = "artifact_updated"
	ActionArtifactRetired  Action = "artifact_retired"
	ActionLinkCreated      Action = "link_created"
	ActionCoverageAsserted Action = "coverage_asserted"
	ActionCoverageCleared  Action = "coverage_cleared"
	ActionLinkReviewed     Action = "link_reviewed"
	ActionLinkRetired      Action = "link_retired"
	ActionEvidenceAttached Action = "evidence_attached"
)

// EntityType identifies the kind of record a history entry describes.
type EntityType string

const (
	EntityArtifact   EntityType = "artifact"
	EntityLink       EntityType = "link"
	EntityAttachment EntityType = "evidence_attachment"
)

// Record is a single history entry. PreviousValue and NewValue hold JSON
// snapshots of the entity before and after the write.
type Record struct {
	ID            string     `json:"id"`
	GraphVersion  int64      `json:"graph_version"`
	Timestamp     time.Time  `json:"timestamp"`
	Actor         string     `json:"actor"`
	Action        Action     `json:"action"`
	EntityType    EntityType `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	PreviousValue string     `json:"previous_value,omitempty"`
	NewValue      string     `json:"new_value,omitempty"`
}

// QueryFilter controls which records are returned by Query.
type QueryFilter struct {
	EntityType EntityType
	EntityID   string
	Actor      string
	Action     Action
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}
