// Package sqlite provides a file-backed grant store for single-node
// deployments that want durability without running Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adc-ops/grantwatch/internal/grant"
)

// Store implements grant.Store on a SQLite database file.
type Store struct {
	db    *sql.DB
	ids   grant.IDGenerator
	clock grant.Clock
}

// New opens the database file and ensures the schema.
func New(path string, ids grant.IDGenerator, clock grant.Clock) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	s := &Store{db: db, ids: ids, clock: clock}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS grants (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	issuing_body TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL,
	max_amount REAL,
	published_date TIMESTAMP,
	deadline_date TIMESTAMP,
	status TEXT NOT NULL DEFAULT 'open',
	keywords TEXT NOT NULL DEFAULT '[]',
	relevance_score INTEGER NOT NULL DEFAULT 0,
	applied INTEGER NOT NULL DEFAULT 0,
	urgency_alerted INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE (title, issuing_body)
);
CREATE INDEX IF NOT EXISTS grants_relevance_idx ON grants (relevance_score DESC, deadline_date ASC);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("ensure grants schema: %w", err)
	}
	return nil
}

const grantColumns = `id, title, issuing_body, description, source_url, scope,
	max_amount, published_date, deadline_date, status, keywords,
	relevance_score, applied, urgency_alerted, created_at, updated_at`

// Upsert inserts or refreshes the record for the candidate's natural key.
// The lookup and write run inside one transaction; SQLite's single-writer
// model makes the pair atomic.
func (s *Store) Upsert(ctx context.Context, c grant.Candidate) (grant.Grant, grant.UpsertOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return grant.Grant{}, "", fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM grants WHERE title = ? AND issuing_body = ?`,
		c.Title, c.IssuingBody,
	).Scan(&id)

	now := s.clock.Now()
	var outcome grant.UpsertOutcome
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if id, err = s.insert(ctx, tx, c, now); err != nil {
			return grant.Grant{}, "", err
		}
		outcome = grant.OutcomeCreated
	case err != nil:
		return grant.Grant{}, "", fmt.Errorf("lookup grant: %w", err)
	default:
		if err := s.update(ctx, tx, id, c, now); err != nil {
			return grant.Grant{}, "", err
		}
		outcome = grant.OutcomeUpdated
	}

	g, err := getTx(ctx, tx, id)
	if err != nil {
		return grant.Grant{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return grant.Grant{}, "", fmt.Errorf("commit upsert: %w", err)
	}
	return g, outcome, nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, c grant.Candidate, now time.Time) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("mint grant id: %w", err)
	}
	keywordsJSON, err := json.Marshal(keywordsOrEmpty(c.Keywords))
	if err != nil {
		return "", fmt.Errorf("marshal keywords: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO grants (
	id, title, issuing_body, description, source_url, scope,
	max_amount, published_date, deadline_date, status, keywords,
	relevance_score, created_at, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, c.Title, c.IssuingBody, c.Description, c.SourceURL, string(c.Scope),
		c.MaxAmount, c.Published, c.Deadline, string(grant.StatusOpen), string(keywordsJSON),
		c.RelevanceScore, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", grant.ErrConflict
		}
		return "", fmt.Errorf("insert grant: %w", err)
	}
	return id, nil
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, id string, c grant.Candidate, now time.Time) error {
	keywordsJSON, err := json.Marshal(keywordsOrEmpty(c.Keywords))
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
UPDATE grants SET
	description = ?,
	source_url = ?,
	scope = ?,
	max_amount = ?,
	published_date = ?,
	deadline_date = CASE WHEN ? OR deadline_date IS NULL THEN ? ELSE deadline_date END,
	keywords = ?,
	relevance_score = ?,
	updated_at = ?
WHERE id = ?`,
		c.Description, c.SourceURL, string(c.Scope), c.MaxAmount, c.Published,
		c.DeadlineConfident, c.Deadline, string(keywordsJSON), c.RelevanceScore,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	return nil
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id string) (grant.Grant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE id = ?`, id)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Grant{}, grant.ErrNotFound
	}
	if err != nil {
		return grant.Grant{}, fmt.Errorf("get grant: %w", err)
	}
	return g, nil
}

func getTx(ctx context.Context, tx *sql.Tx, id string) (grant.Grant, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE id = ?`, id)
	g, err := scanGrant(row)
	if err != nil {
		return grant.Grant{}, fmt.Errorf("reload grant: %w", err)
	}
	return g, nil
}

// List returns matching records ordered by relevance descending, then
// deadline ascending with open-ended calls last.
func (s *Store) List(ctx context.Context, f grant.Filter) ([]grant.Grant, error) {
	var (
		where []string
		args  []any
	)
	if f.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, string(f.Scope))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Search != "" {
		where = append(where, "(lower(title) LIKE ? OR lower(description) LIKE ? OR lower(issuing_body) LIKE ?)")
		needle := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, needle, needle, needle)
	}

	query := `SELECT ` + grantColumns + ` FROM grants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY relevance_score DESC, deadline_date IS NULL ASC, deadline_date ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

// DueForUrgency selects open, unapplied, unalerted records whose deadline
// falls inside the window.
func (s *Store) DueForUrgency(ctx context.Context, now time.Time, window time.Duration) ([]grant.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+grantColumns+` FROM grants
WHERE deadline_date > ?
  AND deadline_date <= ?
  AND status = 'open'
  AND applied = 0
  AND urgency_alerted = 0
ORDER BY deadline_date ASC`, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("query due grants: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

// MarkUrgencyAlerted flips the urgency flag for the record.
func (s *Store) MarkUrgencyAlerted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE grants SET urgency_alerted = 1, updated_at = ? WHERE id = ?`,
		s.clock.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark urgency alerted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark urgency alerted: %w", err)
	}
	if affected == 0 {
		return grant.ErrNotFound
	}
	return nil
}

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (grant.Grant, error) {
	var (
		g            grant.Grant
		scope        string
		status       string
		keywordsJSON string
		maxAmount    sql.NullFloat64
		published    sql.NullTime
		deadline     sql.NullTime
	)
	if err := row.Scan(
		&g.ID,
		&g.Title,
		&g.IssuingBody,
		&g.Description,
		&g.SourceURL,
		&scope,
		&maxAmount,
		&published,
		&deadline,
		&status,
		&keywordsJSON,
		&g.RelevanceScore,
		&g.Applied,
		&g.UrgencyAlerted,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		return grant.Grant{}, err
	}
	g.Scope = grant.Scope(scope)
	g.Status = grant.Status(status)
	if maxAmount.Valid {
		g.MaxAmount = &maxAmount.Float64
	}
	if published.Valid {
		t := published.Time.UTC()
		g.Published = &t
	}
	if deadline.Valid {
		t := deadline.Time.UTC()
		g.Deadline = &t
	}
	if keywordsJSON != "" {
		if err := json.Unmarshal([]byte(keywordsJSON), &g.Keywords); err != nil {
			return grant.Grant{}, fmt.Errorf("unmarshal keywords: %w", err)
		}
	}
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	return g, nil
}

func collectGrants(rows *sql.Rows) ([]grant.Grant, error) {
	var grants []grant.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant row: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grant rows: %w", err)
	}
	return grants, nil
}

func keywordsOrEmpty(k []string) []string {
	if k == nil {
		return []string{}
	}
	return k
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
