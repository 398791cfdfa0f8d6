// Package store persists artifacts, links and evidence attachments as
// append-only, versioned rows and serves immutable graph snapshots.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ziadkadry99/tracegraph/internal/db"
	"github.com/ziadkadry99/tracegraph/internal/graph"
	"github.com/ziadkadry99/tracegraph/internal/history"
)

// DefaultFreshnessWindow applies to attachments that carry neither a
// valid-until date nor their own window.
const DefaultFreshnessWindow = 90 * 24 * time.Hour

const snapshotCacheSize = 16

// Store is the artifact, link and evidence store.
type Store struct {
	db        *db.DB
	clock     func() time.Time
	logger    *zap.Logger
	freshness time.Duration
	locks     *keyedMutex

	flight    singleflight.Group
	snapMu    sync.Mutex
	snapshots map[int64]*graph.Snapshot
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock, for tests and deterministic replays.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithFreshnessWindow sets the default attachment freshness window.
func WithFreshnessWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// New creates a Store backed by the given database.
func New(database *db.DB, opts ...Option) *Store {
	s := &Store{
		db:        database,
		clock:     time.Now,
		logger:    zap.NewNop(),
		freshness: DefaultFreshnessWindow,
		locks:     newKeyedMutex(),
		snapshots: make(map[int64]*graph.Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.clock().UTC() }

// FreshnessWindow returns the default attachment freshness window.
func (s *Store) FreshnessWindow() time.Duration { return s.freshness }

// CurrentVersion returns the latest committed graph version (0 when empty).
func (s *Store) CurrentVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM graph_versions`).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading graph version: %w", err)
	}
	return v, nil
}

// VersionAt returns the last graph version committed at or before t.
func (s *Store) VersionAt(ctx context.Context, t time.Time) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM graph_versions WHERE committed_at <= ?`,
		formatTime(t),
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("resolving graph version at %s: %w", t, err)
	}
	return v, nil
}

// writer carries the state of one write transaction.
type writer struct {
	tx      *sql.Tx
	now     time.Time
	actor   string
	op      string
	version int64
}

// bump allocates the next graph version on first use.
func (w *writer) bump(ctx context.Context) (int64, error) {
	if w.version != 0 {
		return w.version, nil
	}
	res, err := w.tx.ExecContext(ctx,
		`INSERT INTO graph_versions (committed_at, actor, op) VALUES (?, ?, ?)`,
		formatTime(w.now), w.actor, w.op,
	)
	if err != nil {
		return 0, fmt.Errorf("allocating graph version: %w", err)
	}
	v, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("allocating graph version: %w", err)
	}
	w.version = v
	return v, nil
}

// record appends a history row for the current write.
func (w *writer) record(ctx context.Context, action history.Action, entity history.EntityType, id string, prev, next any) error {
	v, err := w.bump(ctx)
	if err != nil {
		return err
	}
	return history.Append(ctx, w.tx, history.Record{
		GraphVersion:  v,
		Timestamp:     w.now,
		Actor:         w.actor,
		Action:        action,
		EntityType:    entity,
		EntityID:      id,
		PreviousValue: marshalState(prev),
		NewValue:      marshalState(next),
	})
}

// write runs fn in an IMMEDIATE transaction. A non-zero ifVersion enables
// the optimistic concurrency check.
func (s *Store) write(ctx context.Context, op, actor string, ifVersion int64, fn func(context.Context, *writer) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if ifVersion != 0 {
			var current int64
			if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM graph_versions`).Scan(&current); err != nil {
				return fmt.Errorf("reading graph version: %w", err)
			}
			if current != ifVersion {
				return graph.Errf(op, graph.ErrStaleWriteConflict, "", "expected version %d, current %d", ifVersion, current)
			}
		}
		w := &writer{tx: tx, now: s.Now(), actor: actor, op: op}
		if err := fn(ctx, w); err != nil {
			return err
		}
		if w.version != 0 {
			s.logger.Debug("graph write committed",
				zap.String("op", op),
				zap.String("actor", actor),
				zap.Int64("version", w.version))
		}
		return nil
	})
}

func marshalState(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(db.TimeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(db.TimeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func encodeAttributes(attrs map[string]any) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encoding attributes: %w", err)
	}
	return string(data), nil
}

func decodeAttributes(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(s), &attrs); err != nil {
		return nil
	}
	return attrs
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
