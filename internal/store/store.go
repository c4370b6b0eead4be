// Package store persists report records in SQLite and answers queries over
// them for the reports command and the collector.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          TEXT NOT NULL,
	page_id     TEXT NOT NULL DEFAULT '',
	seq         INTEGER NOT NULL,
	description TEXT NOT NULL,
	access_type TEXT NOT NULL,
	args        TEXT NOT NULL,
	ret_val     TEXT,
	source      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_description ON reports(description);
CREATE INDEX IF NOT EXISTS idx_reports_source ON reports(source);
`

// Store is a SQLite-backed report sink.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is
	// per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Deliver implements report.Sink.
func (s *Store) Deliver(ctx context.Context, rec report.Record) error {
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return fmt.Errorf("store: marshal args: %w", err)
	}
	var retVal sql.NullString
	if rec.RetVal != nil {
		b, err := json.Marshal(rec.RetVal)
		if err != nil {
			return fmt.Errorf("store: marshal retVal: %w", err)
		}
		retVal = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (ts, page_id, seq, description, access_type, args, ret_val, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Timestamp, rec.PageID, rec.Seq, rec.Description, string(rec.AccessType), string(args), retVal, rec.Source)
	if err != nil {
		return fmt.Errorf("store: insert %s: %w", rec.Description, err)
	}
	return nil
}

// Query selects stored records. Empty fields match everything; Description
// and Source are substring matches.
type Query struct {
	PageID      string
	Description string
	Source      string
	AccessType  model.AccessType
	Limit       int
}

// Records returns matching records in insertion order.
func (s *Store) Records(ctx context.Context, q Query) ([]report.Record, error) {
	where, args := q.where()
	stmt := `SELECT ts, page_id, seq, description, access_type, args, ret_val, source FROM reports` +
		where + ` ORDER BY id`
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []report.Record
	for rows.Next() {
		var (
			rec        report.Record
			access     string
			argsJSON   string
			retValJSON sql.NullString
		)
		if err := rows.Scan(&rec.Timestamp, &rec.PageID, &rec.Seq, &rec.Description, &access, &argsJSON, &retValJSON, &rec.Source); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		rec.AccessType = model.AccessType(access)
		if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
			return nil, fmt.Errorf("store: decode args: %w", err)
		}
		if retValJSON.Valid {
			if err := json.Unmarshal([]byte(retValJSON.String), &rec.RetVal); err != nil {
				return nil, fmt.Errorf("store: decode retVal: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count is one row of an aggregate: how often a member was reported from
// a source.
type Count struct {
	Description string `json:"description"`
	Source      string `json:"source"`
	Count       int    `json:"count"`
}

// Counts aggregates matching records by description and source, most
// frequent first.
func (s *Store) Counts(ctx context.Context, q Query) ([]Count, error) {
	where, args := q.where()
	stmt := `SELECT description, source, COUNT(*) AS n FROM reports` + where +
		` GROUP BY description, source ORDER BY n DESC, description, source`
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("store: counts: %w", err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Description, &c.Source, &c.Count); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q Query) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if q.PageID != "" {
		clauses = append(clauses, "page_id = ?")
		args = append(args, q.PageID)
	}
	if q.Description != "" {
		clauses = append(clauses, "instr(description, ?) > 0")
		args = append(args, q.Description)
	}
	if q.Source != "" {
		clauses = append(clauses, "instr(source, ?) > 0")
		args = append(args, q.Source)
	}
	if q.AccessType != "" {
		clauses = append(clauses, "access_type = ?")
		args = append(args, string(q.AccessType))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
