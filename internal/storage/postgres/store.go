// Package postgres provides the Postgres-backed grant store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adc-ops/grantwatch/internal/grant"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements grant.Store on a pgx connection pool.
type Store struct {
	pool  pgxPool
	ids   grant.IDGenerator
	clock grant.Clock
}

// New connects a pool and builds a Store.
func New(ctx context.Context, cfg Config, ids grant.IDGenerator, clock grant.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, ids: ids, clock: clock}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, ids grant.IDGenerator, clock grant.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, ids: ids, clock: clock}, nil
}

// EnsureSchema creates the grants table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS grants (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL,
	issuing_body TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL,
	max_amount DOUBLE PRECISION,
	published_date TIMESTAMPTZ,
	deadline_date TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'open',
	keywords JSONB NOT NULL DEFAULT '[]',
	relevance_score INT NOT NULL DEFAULT 0,
	applied BOOLEAN NOT NULL DEFAULT FALSE,
	urgency_alerted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (title, issuing_body)
);
CREATE INDEX IF NOT EXISTS grants_relevance_idx ON grants (relevance_score DESC, deadline_date ASC);
CREATE INDEX IF NOT EXISTS grants_deadline_idx ON grants (deadline_date) WHERE NOT urgency_alerted;
`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure grants schema: %w", err)
	}
	return nil
}

const grantColumns = `id, title, issuing_body, description, source_url, scope,
	max_amount, published_date, deadline_date, status, keywords,
	relevance_score, applied, urgency_alerted, created_at, updated_at`

// upsertSQL resolves create-vs-update in one statement. Ingestion-owned
// columns are overwritten; status, applied, urgency_alerted, and created_at
// are never touched on the update path. A provisional deadline only lands
// when the stored one is null. xmax = 0 distinguishes a fresh insert.
const upsertSQL = `
INSERT INTO grants (
	id, title, issuing_body, description, source_url, scope,
	max_amount, published_date, deadline_date, status, keywords,
	relevance_score, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
ON CONFLICT (title, issuing_body) DO UPDATE SET
	description = EXCLUDED.description,
	source_url = EXCLUDED.source_url,
	scope = EXCLUDED.scope,
	max_amount = EXCLUDED.max_amount,
	published_date = EXCLUDED.published_date,
	deadline_date = CASE
		WHEN $14 OR grants.deadline_date IS NULL THEN EXCLUDED.deadline_date
		ELSE grants.deadline_date
	END,
	keywords = EXCLUDED.keywords,
	relevance_score = EXCLUDED.relevance_score,
	updated_at = EXCLUDED.updated_at
RETURNING ` + grantColumns + `, (xmax = 0) AS inserted`

// Upsert inserts or refreshes the record for the candidate's natural key.
func (s *Store) Upsert(ctx context.Context, c grant.Candidate) (grant.Grant, grant.UpsertOutcome, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return grant.Grant{}, "", fmt.Errorf("mint grant id: %w", err)
	}
	keywordsJSON, err := json.Marshal(keywordsOrEmpty(c.Keywords))
	if err != nil {
		return grant.Grant{}, "", fmt.Errorf("marshal keywords: %w", err)
	}

	row := s.pool.QueryRow(ctx, upsertSQL,
		id,
		c.Title,
		c.IssuingBody,
		c.Description,
		c.SourceURL,
		string(c.Scope),
		c.MaxAmount,
		c.Published,
		c.Deadline,
		string(grant.StatusOpen),
		keywordsJSON,
		c.RelevanceScore,
		s.clock.Now(),
		c.DeadlineConfident,
	)

	var (
		g        grant.Grant
		inserted bool
	)
	if err := scanGrant(row, &g, &inserted); err != nil {
		if isUniqueViolation(err) {
			return grant.Grant{}, "", grant.ErrConflict
		}
		return grant.Grant{}, "", fmt.Errorf("upsert grant: %w", err)
	}
	if inserted {
		return g, grant.OutcomeCreated, nil
	}
	return g, grant.OutcomeUpdated, nil
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id string) (grant.Grant, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+grantColumns+`, FALSE FROM grants WHERE id = $1`, id)

	var (
		g      grant.Grant
		unused bool
	)
	if err := scanGrant(row, &g, &unused); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return grant.Grant{}, grant.ErrNotFound
		}
		return grant.Grant{}, fmt.Errorf("get grant: %w", err)
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
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Scope != "" {
		where = append(where, "scope = "+arg(string(f.Scope)))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Search != "" {
		p := arg("%" + f.Search + "%")
		where = append(where, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s OR issuing_body ILIKE %s)", p, p, p))
	}

	query := `SELECT ` + grantColumns + `, FALSE FROM grants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY relevance_score DESC, deadline_date ASC NULLS LAST, id ASC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

// DueForUrgency selects open, unapplied, unalerted records whose deadline
// falls inside the window.
func (s *Store) DueForUrgency(ctx context.Context, now time.Time, window time.Duration) ([]grant.Grant, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+grantColumns+`, FALSE FROM grants
WHERE deadline_date > $1
  AND deadline_date <= $2
  AND status = 'open'
  AND NOT applied
  AND NOT urgency_alerted
ORDER BY deadline_date ASC`, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("query due grants: %w", err)
	}
	defer rows.Close()
	return collectGrants(rows)
}

// MarkUrgencyAlerted flips the urgency flag for the record.
func (s *Store) MarkUrgencyAlerted(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE grants SET urgency_alerted = TRUE, updated_at = $2 WHERE id = $1`, id, s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark urgency alerted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return grant.ErrNotFound
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner, g *grant.Grant, inserted *bool) error {
	var (
		scope        string
		status       string
		keywordsJSON []byte
	)
	if err := row.Scan(
		&g.ID,
		&g.Title,
		&g.IssuingBody,
		&g.Description,
		&g.SourceURL,
		&scope,
		&g.MaxAmount,
		&g.Published,
		&g.Deadline,
		&status,
		&keywordsJSON,
		&g.RelevanceScore,
		&g.Applied,
		&g.UrgencyAlerted,
		&g.CreatedAt,
		&g.UpdatedAt,
		inserted,
	); err != nil {
		return err
	}
	g.Scope = grant.Scope(scope)
	g.Status = grant.Status(status)
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &g.Keywords); err != nil {
			return fmt.Errorf("unmarshal keywords: %w", err)
		}
	}
	return nil
}

func collectGrants(rows pgx.Rows) ([]grant.Grant, error) {
	var grants []grant.Grant
	for rows.Next() {
		var (
			g      grant.Grant
			unused bool
		)
		if err := scanGrant(rows, &g, &unused); err != nil {
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
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
