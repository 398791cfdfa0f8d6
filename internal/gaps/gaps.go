// Package gaps enumerates compliance deficiencies in a graph snapshot
// without mutating anything.
package gaps

import (
	"sort"
	"time"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// MaxChainDepth bounds traceability traversal.
const MaxChainDepth = 64

// StaleEntry is a link whose most recent evidence has gone stale.
type StaleEntry struct {
	Link       *graph.Link               `json:"link"`
	Attachment *graph.EvidenceAttachment `json:"attachment"`
	ExpiredAt  time.Time                 `json:"expired_at"`
}

// OverdueReview is a link nobody has reviewed within the allowed age.
type OverdueReview struct {
	Link         *graph.Link   `json:"link"`
	LastReviewed time.Time     `json:"last_reviewed"`
	Age          time.Duration `json:"age"`
}

// UnmappedControls returns non-retired controls of a framework with no live
// maps_to or satisfies link pointing at them. An empty framework id checks
// every framework.
func UnmappedControls(snap *graph.Snapshot, frameworkID string) []*graph.Artifact {
	result := []*graph.Artifact{}
	for _, c := range snap.Controls(frameworkID) {
		if len(snap.Inbound(c.ID, graph.LinkMapsTo, graph.LinkSatisfies)) == 0 {
			result = append(result, c)
		}
	}
	return result
}

// StaleEvidence returns, for every live link, its most recent attachment
// collected at or before asOf when that attachment is stale at asOf.
// Attachments backed by retired evidence are skipped.
func StaleEvidence(snap *graph.Snapshot, asOf time.Time) []StaleEntry {
	result := []StaleEntry{}
	for _, l := range snap.Links(snap.Live) {
		latest := latestAt(snap, l.ID, asOf)
		if latest == nil || !latest.StaleAt(asOf) {
			continue
		}
		result = append(result, StaleEntry{Link: l, Attachment: latest, ExpiredAt: latest.ExpiresAt()})
	}
	return result
}

func latestAt(snap *graph.Snapshot, linkID string, asOf time.Time) *graph.EvidenceAttachment {
	var latest *graph.EvidenceAttachment
	for _, att := range snap.Attachments(linkID) {
		if att.CollectedAt.After(asOf) {
			continue
		}
		if ev, ok := snap.Artifact(att.EvidenceID); !ok || ev.Retired() {
			continue
		}
		latest = att
	}
	return latest
}

// OverdueReviews returns live links whose last review is older than maxAge
// at asOf, least recently reviewed first.
func OverdueReviews(snap *graph.Snapshot, asOf time.Time, maxAge time.Duration) []OverdueReview {
	result := []OverdueReview{}
	for _, l := range snap.Links(snap.Live) {
		age := asOf.Sub(l.LastReviewed)
		if age > maxAge {
			result = append(result, OverdueReview{Link: l, LastReviewed: l.LastReviewed, Age: age})
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].LastReviewed.Before(result[j].LastReviewed)
	})
	return result
}
