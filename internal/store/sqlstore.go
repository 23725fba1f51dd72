// Package store implements durable session persistence behind the registry.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/queueup/backend/internal/session"
)

// SQLStore keeps one JSON record per session in the sessions table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps a migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const upsertSession = `
INSERT INTO sessions (access_code, status, version, record, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (access_code) DO UPDATE SET
    status     = excluded.status,
    version    = excluded.version,
    record     = excluded.record,
    updated_at = excluded.updated_at
WHERE excluded.version >= sessions.version`

// Save upserts rec. An older version never overwrites a newer one.
func (s *SQLStore) Save(ctx context.Context, rec session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", rec.AccessCode, err)
	}
	_, err = s.db.ExecContext(ctx, upsertSession,
		rec.AccessCode, string(rec.Status), rec.Version, string(data), rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.AccessCode, err)
	}
	return nil
}

// Delete removes the record. Missing records are not an error.
func (s *SQLStore) Delete(ctx context.Context, accessCode string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE access_code = ?`, accessCode); err != nil {
		return fmt.Errorf("delete session %s: %w", accessCode, err)
	}
	return nil
}

// LoadAll returns every stored record.
func (s *SQLStore) LoadAll(ctx context.Context) ([]session.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM sessions ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
