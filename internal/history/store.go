package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ziadkadry99/tracegraph/internal/db"
)

// Execer is satisfied by *sql.DB and *sql.Tx so records can be appended
// inside the transaction of the write they describe.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append inserts a record. If rec.ID is empty a UUID is generated.
func Append(ctx context.Context, ex Execer, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	var previousValue, newValue sql.NullString
	if rec.PreviousValue != "" {
		previousValue = sql.NullString{String: rec.PreviousValue, Valid: true}
	}
	if rec.NewValue != "" {
		newValue = sql.NullString{String: rec.NewValue, Valid: true}
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO history (
			id, graph_version, timestamp, actor, action,
			entity_type, entity_id, previous_value, new_value
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.GraphVersion,
		rec.Timestamp.UTC().Format(db.TimeFormat),
		rec.Actor,
		string(rec.Action),
		string(rec.EntityType),
		rec.EntityID,
		previousValue,
		newValue,
	)
	if err != nil {
		return fmt.Errorf("inserting history record: %w", err)
	}
	return nil
}

// Store reads the history trail.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Query returns records matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.EntityType != "" {
		clauses = append(clauses, "entity_type = ?")
		args = append(args, string(filter.EntityType))
	}
	if filter.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Actor != "" {
		clauses = append(clauses, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(db.TimeFormat))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(db.TimeFormat))
	}

	query := "SELECT id, graph_version, timestamp, actor, action, entity_type, entity_id, previous_value, new_value FROM history"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY graph_version DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r                       Record
		ts, action, entityType  string
		previousValue, newValue sql.NullString
	)

	err := sc.Scan(&r.ID, &r.GraphVersion, &ts, &r.Actor, &action, &entityType,
		&r.EntityID, &previousValue, &newValue)
	if err != nil {
		return nil, err
	}

	r.Action = Action(action)
	r.EntityType = EntityType(entityType)
	if t, parseErr := time.Parse(db.TimeFormat, ts); parseErr == nil {
		r.Timestamp = t
	}
	r.PreviousValue = previousValue.String
	r.NewValue = newValue.String

	return &r, nil
}
