package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

// querier is implemented by *sql.DB, *sql.Tx and *db.DB.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const artifactColumns = `id, graph_version, kind, framework_id, attributes, lifecycle, created_at, updated_at`

const linkColumns = `id, graph_version, source_id, target_id, link_type, coverage, coverage_asserted, last_reviewed, retired, created_at`

const attachmentColumns = `id, graph_version, link_id, evidence_id, collected_at, valid_until, source, freshness_window_ns, attributes, created_at`

// latestAt selects, for table t aliased as x, the newest row of each id at
// or below the version bound passed as the first argument.
func latestAt(table string) string {
	return fmt.Sprintf(
		`x.graph_version = (SELECT MAX(y.graph_version) FROM %s y WHERE y.id = x.id AND y.graph_version <= ?)`,
		table)
}

func scanArtifact(sc scanner) (*graph.Artifact, error) {
	var (
		a                      graph.Artifact
		kind, attrs, lifecycle string
		createdAt, updatedAt   string
	)
	if err := sc.Scan(&a.ID, &a.Version, &kind, &a.FrameworkID, &attrs, &lifecycle, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Kind = graph.Kind(kind)
	a.Lifecycle = graph.Lifecycle(lifecycle)
	a.Attributes = decodeAttributes(attrs)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func scanLink(sc scanner) (*graph.Link, error) {
	var (
		l                       graph.Link
		linkType, coverage      string
		asserted, retired       int
		lastReviewed, createdAt string
	)
	if err := sc.Scan(&l.ID, &l.Version, &l.SourceID, &l.TargetID, &linkType, &coverage,
		&asserted, &lastReviewed, &retired, &createdAt); err != nil {
		return nil, err
	}
	l.Type = graph.LinkType(linkType)
	l.Coverage = graph.Coverage(coverage)
	l.CoverageAsserted = asserted != 0
	l.Retired = retired != 0
	l.LastReviewed = parseTime(lastReviewed)
	l.CreatedAt = parseTime(createdAt)
	return &l, nil
}

func scanAttachment(sc scanner) (*graph.EvidenceAttachment, error) {
	var (
		e                          graph.EvidenceAttachment
		collectedAt, source, attrs string
		createdAt                  string
		validUntil                 sql.NullString
		window                     int64
	)
	if err := sc.Scan(&e.ID, &e.Version, &e.LinkID, &e.EvidenceID, &collectedAt, &validUntil,
		&source, &window, &attrs, &createdAt); err != nil {
		return nil, err
	}
	e.CollectedAt = parseTime(collectedAt)
	if validUntil.Valid {
		t := parseTime(validUntil.String)
		e.ValidUntil = &t
	}
	e.Source = graph.EvidenceSource(source)
	e.FreshnessWindow = time.Duration(window)
	e.Attributes = decodeAttributes(attrs)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

// loadArtifact returns the current state of an artifact, or nil.
func loadArtifact(ctx context.Context, q querier, id string) (*graph.Artifact, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = ? ORDER BY graph_version DESC LIMIT 1`, id)
	a, err := scanArtifact(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading artifact %s: %w", id, err)
	}
	return a, nil
}

// loadLink returns the current state of a link, or nil.
func loadLink(ctx context.Context, q querier, id string) (*graph.Link, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE id = ? ORDER BY graph_version DESC LIMIT 1`, id)
	l, err := scanLink(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading link %s: %w", id, err)
	}
	return l, nil
}

// findLiveLink returns the non-retired link of the given type between an
// ordered pair, or nil.
func findLiveLink(ctx context.Context, q querier, sourceID, targetID string, t graph.LinkType) (*graph.Link, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT DISTINCT id FROM links WHERE source_id = ? AND target_id = ? AND link_type = ?`,
		sourceID, targetID, string(t))
	if err != nil {
		return nil, fmt.Errorf("finding link: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		l, err := loadLink(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if l != nil && !l.Retired {
			return l, nil
		}
	}
	return nil, nil
}

// chainEdges returns the current non-retired edges whose type belongs to
// the given chain.
func chainEdges(ctx context.Context, q querier, chain graph.Chain) ([]graph.Edge, error) {
	var types []string
	var args []any
	for _, t := range []graph.LinkType{graph.LinkMapsTo, graph.LinkSatisfies, graph.LinkTests,
		graph.LinkImplements, graph.LinkValidates, graph.LinkRemediates} {
		if t.Chain() == chain {
			types = append(types, "?")
			args = append(args, string(t))
		}
	}
	args = append(args, int64(math.MaxInt64))

	query := `SELECT x.source_id, x.target_id FROM links x
		WHERE x.link_type IN (` + strings.Join(types, ",") + `)
		AND x.retired = 0 AND ` + latestAt("links")

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading %s edges: %w", chain, err)
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.From, &e.To); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
