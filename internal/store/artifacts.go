package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/history"
)

// NewArtifact describes an artifact to create. An empty ID gets a UUID.
type NewArtifact struct {
	ID          string         `json:"id,omitempty"`
	Kind        graph.Kind     `json:"kind"`
	FrameworkID string         `json:"framework_id,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Draft       bool           `json:"draft,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	IfVersion   int64          `json:"if_version,omitempty"`
}

// ArtifactUpdate changes an artifact's attributes or lifecycle. Attributes
// are merged into the existing map; a nil value removes the key.
type ArtifactUpdate struct {
	Attributes map[string]any   `json:"attributes,omitempty"`
	Lifecycle  *graph.Lifecycle `json:"lifecycle,omitempty"`
	Actor      string           `json:"actor,omitempty"`
	IfVersion  int64            `json:"if_version,omitempty"`
}

// CreateArtifact stores a new artifact and reports whether a row was
// written. Creating an artifact whose id already exists with the same kind
// and framework returns the stored artifact unchanged; a different
// framework fails with ErrFrameworkConflict.
func (s *Store) CreateArtifact(ctx context.Context, in NewArtifact) (graph.Artifact, bool, error) {
	const op = "create_artifact"
	if err := graph.CheckArtifactShape(in.Kind, in.FrameworkID); err != nil {
		return graph.Artifact{}, false, err
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}

	unlock := s.locks.Lock(artifactKey(in.ID))
	defer unlock()

	var (
		result  graph.Artifact
		created bool
	)
	err := s.write(ctx, op, in.Actor, in.IfVersion, func(ctx context.Context, w *writer) error {
		existing, err := loadArtifact(ctx, w.tx, in.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Kind != in.Kind {
				return graph.Errf(op, graph.ErrInvalidKind, in.ID, "exists as %s", existing.Kind)
			}
			if existing.Retired() {
				return graph.Errf(op, graph.ErrAlreadyRetired, in.ID, "")
			}
			if existing.FrameworkID != in.FrameworkID {
				return graph.Errf(op, graph.ErrFrameworkConflict, in.ID, "exists under %q", existing.FrameworkID)
			}
			result = *existing
			return nil
		}

		a := graph.Artifact{
			ID:          in.ID,
			Kind:        in.Kind,
			FrameworkID: in.FrameworkID,
			Attributes:  in.Attributes,
			Lifecycle:   graph.LifecycleActive,
			CreatedAt:   w.now,
			UpdatedAt:   w.now,
		}
		if in.Draft {
			a.Lifecycle = graph.LifecycleDraft
		}
		if err := insertArtifact(ctx, w, &a); err != nil {
			return err
		}
		result, created = a, true
		return w.record(ctx, history.ActionArtifactCreated, history.EntityArtifact, a.ID, nil, a)
	})
	return result, created, err
}

// UpdateArtifact edits attributes or moves an artifact between draft and
// active. Kind and framework never change.
func (s *Store) UpdateArtifact(ctx context.Context, id string, upd ArtifactUpdate) (graph.Artifact, error) {
	const op = "update_artifact"
	unlock := s.locks.Lock(artifactKey(id))
	defer unlock()

	var result graph.Artifact
	err := s.write(ctx, op, upd.Actor, upd.IfVersion, func(ctx context.Context, w *writer) error {
		prev, err := loadArtifact(ctx, w.tx, id)
		if err != nil {
			return err
		}
		if prev == nil {
			return graph.Errf(op, graph.ErrNotFound, id, "")
		}
		if prev.Retired() {
			return graph.Errf(op, graph.ErrAlreadyRetired, id, "")
		}

		next := *prev
		next.Attributes = mergeAttributes(prev.Attributes, upd.Attributes)
		if upd.Lifecycle != nil {
			switch *upd.Lifecycle {
			case graph.LifecycleDraft, graph.LifecycleActive:
				next.Lifecycle = *upd.Lifecycle
			default:
				return graph.Errf(op, graph.ErrInvalidLifecycle, id, "%q (use retire)", *upd.Lifecycle)
			}
		}
		if sameArtifactState(prev, &next) {
			result = *prev
			return nil
		}
		next.UpdatedAt = w.now
		if err := insertArtifact(ctx, w, &next); err != nil {
			return err
		}
		result = next
		return w.record(ctx, history.ActionArtifactUpdated, history.EntityArtifact, id, prev, next)
	})
	return result, err
}

// RetireArtifact tombstones an artifact. Links touching it stop counting
// toward scores but remain in history.
func (s *Store) RetireArtifact(ctx context.Context, id, actor string) (graph.Artifact, error) {
	const op = "retire_artifact"
	unlock := s.locks.Lock(artifactKey(id))
	defer unlock()

	var result graph.Artifact
	err := s.write(ctx, op, actor, 0, func(ctx context.Context, w *writer) error {
		prev, err := loadArtifact(ctx, w.tx, id)
		if err != nil {
			return err
		}
		if prev == nil {
			return graph.Errf(op, graph.ErrNotFound, id, "")
		}
		if prev.Retired() {
			return graph.Errf(op, graph.ErrAlreadyRetired, id, "")
		}
		next := *prev
		next.Lifecycle = graph.LifecycleRetired
		next.UpdatedAt = w.now
		if err := insertArtifact(ctx, w, &next); err != nil {
			return err
		}
		result = next
		return w.record(ctx, history.ActionArtifactRetired, history.EntityArtifact, id, prev, next)
	})
	return result, err
}

// Artifact returns the current state of an artifact, retired or not.
func (s *Store) Artifact(ctx context.Context, id string) (graph.Artifact, error) {
	a, err := loadArtifact(ctx, s.db, id)
	if err != nil {
		return graph.Artifact{}, err
	}
	if a == nil {
		return graph.Artifact{}, graph.Errf("get_artifact", graph.ErrNotFound, id, "")
	}
	return *a, nil
}

func insertArtifact(ctx context.Context, w *writer, a *graph.Artifact) error {
	v, err := w.bump(ctx)
	if err != nil {
		return err
	}
	attrs, err := encodeAttributes(a.Attributes)
	if err != nil {
		return err
	}
	a.Version = v
	_, err = w.tx.ExecContext(ctx,
		`INSERT INTO artifacts (row_id, id, graph_version, kind, framework_id, attributes, lifecycle, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), a.ID, v, string(a.Kind), a.FrameworkID, attrs, string(a.Lifecycle),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting artifact %s: %w", a.ID, err)
	}
	return nil
}

func mergeAttributes(base, changes map[string]any) map[string]any {
	if len(changes) == 0 {
		return base
	}
	merged := make(map[string]any, len(base)+len(changes))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range changes {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func sameArtifactState(a, b *graph.Artifact) bool {
	if a.Lifecycle != b.Lifecycle {
		return false
	}
	x, err1 := encodeAttributes(a.Attributes)
	y, err2 := encodeAttributes(b.Attributes)
	return err1 == nil && err2 == nil && x == y
}
