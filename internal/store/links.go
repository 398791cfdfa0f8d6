package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/history"
)

// NewLink describes a link to create. A nil Coverage leaves coverage to be
// derived from evidence.
type NewLink struct {
	SourceID  string          `json:"source_id"`
	TargetID  string          `json:"target_id"`
	Type      graph.LinkType  `json:"type"`
	Coverage  *graph.Coverage `json:"coverage,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	IfVersion int64           `json:"if_version,omitempty"`
}

// CoverageUpdate asserts a link's coverage. A nil Coverage clears the
// assertion so coverage is derived again.
type CoverageUpdate struct {
	Coverage  *graph.Coverage `json:"coverage"`
	Actor     string          `json:"actor,omitempty"`
	IfVersion int64           `json:"if_version,omitempty"`
}

func pairKey(sourceID, targetID string, t graph.LinkType) string {
	return "pair:" + sourceID + "\x00" + targetID + "\x00" + string(t)
}

func chainKey(c graph.Chain) string { return "chain:" + string(c) }

// CreateLink connects two artifacts. If a live link of the same type already
// joins the ordered pair it is returned with created=false and nothing is
// written.
func (s *Store) CreateLink(ctx context.Context, in NewLink) (graph.Link, bool, error) {
	const op = "create_link"
	if !in.Type.Valid() {
		return graph.Link{}, false, graph.Errf(op, graph.ErrInvalidLinkType, "", "%q", in.Type)
	}
	if in.Coverage != nil && !in.Coverage.Valid() {
		return graph.Link{}, false, graph.Errf(op, graph.ErrInvalidCoverage, "", "%q", *in.Coverage)
	}

	unlock := s.locks.Lock(
		artifactKey(in.SourceID),
		artifactKey(in.TargetID),
		pairKey(in.SourceID, in.TargetID, in.Type),
		chainKey(in.Type.Chain()),
	)
	defer unlock()

	var (
		result  graph.Link
		created bool
	)
	err := s.write(ctx, op, in.Actor, in.IfVersion, func(ctx context.Context, w *writer) error {
		src, err := liveArtifact(ctx, w, op, in.SourceID)
		if err != nil {
			return err
		}
		dst, err := liveArtifact(ctx, w, op, in.TargetID)
		if err != nil {
			return err
		}
		if !graph.CheckKindPair(in.Type, src, dst) {
			return graph.Errf(op, graph.ErrInvalidKindPair, "", "%s %s -> %s", in.Type, src.Kind, dst.Kind)
		}

		existing, err := findLiveLink(ctx, w.tx, in.SourceID, in.TargetID, in.Type)
		if err != nil {
			return err
		}
		if existing != nil {
			result = *existing
			return nil
		}

		edges, err := chainEdges(ctx, w.tx, in.Type.Chain())
		if err != nil {
			return err
		}
		if graph.WouldCycle(edges, in.SourceID, in.TargetID) {
			return graph.Errf(op, graph.ErrCycleDetected, "", "%s -> %s closes a %s cycle",
				in.SourceID, in.TargetID, in.Type.Chain())
		}

		l := graph.Link{
			ID:           uuid.New().String(),
			SourceID:     in.SourceID,
			TargetID:     in.TargetID,
			Type:         in.Type,
			Coverage:     graph.CoverageNone,
			LastReviewed: w.now,
			CreatedAt:    w.now,
		}
		if in.Coverage != nil {
			l.Coverage = *in.Coverage
			l.CoverageAsserted = true
		}
		if err := insertLink(ctx, w, &l); err != nil {
			return err
		}
		result, created = l, true
		return w.record(ctx, history.ActionLinkCreated, history.EntityLink, l.ID, nil, l)
	})
	return result, created, err
}

// AssertCoverage sets or clears the user-asserted coverage of a link.
// Asserting counts as a review.
func (s *Store) AssertCoverage(ctx context.Context, linkID string, upd CoverageUpdate) (graph.Link, error) {
	const op = "assert_coverage"
	if upd.Coverage != nil && !upd.Coverage.Valid() {
		return graph.Link{}, graph.Errf(op, graph.ErrInvalidCoverage, linkID, "%q", *upd.Coverage)
	}
	return s.updateLink(ctx, op, linkID, upd.Actor, upd.IfVersion, func(l *graph.Link) history.Action {
		if upd.Coverage == nil {
			l.Coverage = graph.CoverageNone
			l.CoverageAsserted = false
			return history.ActionCoverageCleared
		}
		l.Coverage = *upd.Coverage
		l.CoverageAsserted = true
		return history.ActionCoverageAsserted
	})
}

// ReviewLink records that a person confirmed the link is still accurate.
func (s *Store) ReviewLink(ctx context.Context, linkID, actor string) (graph.Link, error) {
	return s.updateLink(ctx, "review_link", linkID, actor, 0, func(*graph.Link) history.Action {
		return history.ActionLinkReviewed
	})
}

// RetireLink tombstones a link.
func (s *Store) RetireLink(ctx context.Context, linkID, actor string) (graph.Link, error) {
	return s.updateLink(ctx, "retire_link", linkID, actor, 0, func(l *graph.Link) history.Action {
		l.Retired = true
		return history.ActionLinkRetired
	})
}

// updateLink appends a new row for an existing, non-retired link. Every
// update refreshes LastReviewed except retirement.
func (s *Store) updateLink(ctx context.Context, op, linkID, actor string, ifVersion int64, mutate func(*graph.Link) history.Action) (graph.Link, error) {
	unlock := s.locks.Lock(linkKey(linkID))
	defer unlock()

	var result graph.Link
	err := s.write(ctx, op, actor, ifVersion, func(ctx context.Context, w *writer) error {
		prev, err := loadLink(ctx, w.tx, linkID)
		if err != nil {
			return err
		}
		if prev == nil {
			return graph.Errf(op, graph.ErrLinkNotFound, linkID, "")
		}
		if prev.Retired {
			return graph.Errf(op, graph.ErrAlreadyRetired, linkID, "")
		}
		next := *prev
		action := mutate(&next)
		if !next.Retired {
			next.LastReviewed = w.now
		}
		if err := insertLink(ctx, w, &next); err != nil {
			return err
		}
		result = next
		return w.record(ctx, action, history.EntityLink, linkID, prev, next)
	})
	return result, err
}

// Link returns the current state of a link, retired or not.
func (s *Store) Link(ctx context.Context, id string) (graph.Link, error) {
	l, err := loadLink(ctx, s.db, id)
	if err != nil {
		return graph.Link{}, err
	}
	if l == nil {
		return graph.Link{}, graph.Errf("get_link", graph.ErrLinkNotFound, id, "")
	}
	return *l, nil
}

// liveArtifact loads an artifact that must exist and not be retired.
func liveArtifact(ctx context.Context, w *writer, op, id string) (*graph.Artifact, error) {
	a, err := loadArtifact(ctx, w.tx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, graph.Errf(op, graph.ErrNotFound, id, "")
	}
	if a.Retired() {
		return nil, graph.Errf(op, graph.ErrNotFound, id, "artifact is retired")
	}
	return a, nil
}

func insertLink(ctx context.Context, w *writer, l *graph.Link) error {
	v, err := w.bump(ctx)
	if err != nil {
		return err
	}
	l.Version = v
	_, err = w.tx.ExecContext(ctx,
		`INSERT INTO links (row_id, id, graph_version, source_id, target_id, link_type, coverage, coverage_asserted, last_reviewed, retired, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), l.ID, v, l.SourceID, l.TargetID, string(l.Type), string(l.Coverage),
		boolInt(l.CoverageAsserted), formatTime(l.LastReviewed), boolInt(l.Retired), formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting link %s: %w", l.ID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
