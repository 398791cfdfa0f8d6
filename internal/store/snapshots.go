package store

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// Snapshot returns the graph as it stood at the given version. Negative
// versions and versions above the current one resolve to the current
// version; version 0 is the empty graph. Snapshots are immutable and
// shared between callers.
func (s *Store) Snapshot(ctx context.Context, version int64) (*graph.Snapshot, error) {
	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version > current || version < 0 {
		version = current
	}

	s.snapMu.Lock()
	snap, ok := s.snapshots[version]
	s.snapMu.Unlock()
	if ok {
		return snap, nil
	}

	v, err, _ := s.flight.Do(strconv.FormatInt(version, 10), func() (any, error) {
		snap, err := s.loadSnapshot(ctx, version)
		if err != nil {
			return nil, err
		}
		s.cacheSnapshot(snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.Snapshot), nil
}

// Latest returns the snapshot at the current version.
func (s *Store) Latest(ctx context.Context) (*graph.Snapshot, error) {
	return s.Snapshot(ctx, -1)
}

func (s *Store) cacheSnapshot(snap *graph.Snapshot) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.snapshots[snap.Version] = snap
	for len(s.snapshots) > snapshotCacheSize {
		oldest := int64(-1)
		for v := range s.snapshots {
			if oldest < 0 || v < oldest {
				oldest = v
			}
		}
		delete(s.snapshots, oldest)
	}
}

func (s *Store) loadSnapshot(ctx context.Context, version int64) (*graph.Snapshot, error) {
	artifacts, err := s.loadArtifactsAt(ctx, version)
	if err != nil {
		return nil, err
	}
	links, err := s.loadLinksAt(ctx, version)
	if err != nil {
		return nil, err
	}
	attachments, err := s.loadAttachmentsAt(ctx, version)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("loaded snapshot",
		zap.Int64("version", version),
		zap.Int("artifacts", len(artifacts)),
		zap.Int("links", len(links)))
	return graph.NewSnapshot(version, artifacts, links, attachments), nil
}

func (s *Store) loadArtifactsAt(ctx context.Context, version int64) ([]graph.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts x WHERE `+latestAt("artifacts"), version)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts at %d: %w", version, err)
	}
	defer rows.Close()

	var result []graph.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *Store) loadLinksAt(ctx context.Context, version int64) ([]graph.Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM links x WHERE `+latestAt("links"), version)
	if err != nil {
		return nil, fmt.Errorf("loading links at %d: %w", version, err)
	}
	defer rows.Close()

	var result []graph.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		result = append(result, *l)
	}
	return result, rows.Err()
}

func (s *Store) loadAttachmentsAt(ctx context.Context, version int64) ([]graph.EvidenceAttachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM evidence_attachments WHERE graph_version <= ?`, version)
	if err != nil {
		return nil, fmt.Errorf("loading attachments at %d: %w", version, err)
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
