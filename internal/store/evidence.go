package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/history"
)

// NewAttachment describes evidence to attach to a link. Zero values take
// defaults: CollectedAt is now, Source is manual and FreshnessWindow is the
// store's default window.
type NewAttachment struct {
	LinkID          string               `json:"link_id"`
	EvidenceID      string               `json:"evidence_id"`
	CollectedAt     time.Time            `json:"collected_at,omitempty"`
	ValidUntil      *time.Time           `json:"valid_until,omitempty"`
	Source          graph.EvidenceSource `json:"source,omitempty"`
	FreshnessWindow time.Duration        `json:"freshness_window,omitempty"`
	Attributes      map[string]any       `json:"attributes,omitempty"`
	Actor           string               `json:"actor,omitempty"`
	IfVersion       int64                `json:"if_version,omitempty"`
}

// AttachEvidence binds an evidence artifact to a link. Attachments only
// accumulate; the link's own row is not rewritten.
func (s *Store) AttachEvidence(ctx context.Context, in NewAttachment) (graph.EvidenceAttachment, error) {
	const op = "attach_evidence"
	if in.Source == "" {
		in.Source = graph.SourceManual
	}
	if !in.Source.Valid() {
		return graph.EvidenceAttachment{}, graph.Errf(op, graph.ErrInvalidAttachment, in.LinkID, "source %q", in.Source)
	}
	if in.FreshnessWindow < 0 {
		return graph.EvidenceAttachment{}, graph.Errf(op, graph.ErrInvalidAttachment, in.LinkID, "negative freshness window")
	}
	if in.FreshnessWindow == 0 {
		in.FreshnessWindow = s.freshness
	}

	unlock := s.locks.Lock(linkKey(in.LinkID), artifactKey(in.EvidenceID))
	defer unlock()

	var result graph.EvidenceAttachment
	err := s.write(ctx, op, in.Actor, in.IfVersion, func(ctx context.Context, w *writer) error {
		l, err := loadLink(ctx, w.tx, in.LinkID)
		if err != nil {
			return err
		}
		if l == nil || l.Retired {
			return graph.Errf(op, graph.ErrLinkNotFound, in.LinkID, "")
		}
		ev, err := liveArtifact(ctx, w, op, in.EvidenceID)
		if err != nil {
			return err
		}
		if ev.Kind != graph.KindEvidence {
			return graph.Errf(op, graph.ErrInvalidArtifactKind, in.EvidenceID, "%s is not evidence", ev.Kind)
		}

		e := graph.EvidenceAttachment{
			ID:              uuid.New().String(),
			LinkID:          in.LinkID,
			EvidenceID:      in.EvidenceID,
			CollectedAt:     in.CollectedAt.UTC(),
			Source:          in.Source,
			FreshnessWindow: in.FreshnessWindow,
			Attributes:      in.Attributes,
			CreatedAt:       w.now,
		}
		if e.CollectedAt.IsZero() {
			e.CollectedAt = w.now
		}
		if in.ValidUntil != nil {
			until := in.ValidUntil.UTC()
			if until.Before(e.CollectedAt) {
				return graph.Errf(op, graph.ErrInvalidAttachment, in.LinkID, "valid_until precedes collected_at")
			}
			e.ValidUntil = &until
		}
		if err := insertAttachment(ctx, w, &e); err != nil {
			return err
		}
		result = e
		return w.record(ctx, history.ActionEvidenceAttached, history.EntityAttachment, e.ID, nil, e)
	})
	return result, err
}

// Attachments returns every attachment on a link, oldest collection first.
func (s *Store) Attachments(ctx context.Context, linkID string) ([]graph.EvidenceAttachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM evidence_attachments WHERE link_id = ?
		 ORDER BY collected_at, graph_version`, linkID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	var result []graph.EvidenceAttachment
	for rows.Next() {
		e, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func insertAttachment(ctx context.Context, w *writer, e *graph.EvidenceAttachment) error {
	v, err := w.bump(ctx)
	if err != nil {
		return err
	}
	attrs, err := encodeAttributes(e.Attributes)
	if err != nil {
		return err
	}
	var validUntil sql.NullString
	if e.ValidUntil != nil {
		validUntil = sql.NullString{String: formatTime(*e.ValidUntil), Valid: true}
	}
	e.Version = v
	_, err = w.tx.ExecContext(ctx,
		`INSERT INTO evidence_attachments (id, graph_version, link_id, evidence_id, collected_at, valid_until, source, freshness_window_ns, attributes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, v, e.LinkID, e.EvidenceID, formatTime(e.CollectedAt), validUntil,
		string(e.Source), int64(e.FreshnessWindow), attrs, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting attachment: %w", err)
	}
	return nil
}
