// Package store persists resolution results for later analysis.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS resolutions (
    id               UUID PRIMARY KEY,
    page_url         TEXT NOT NULL,
    target_kind      TEXT NOT NULL,
    target_attribute TEXT NOT NULL DEFAULT '',
    target_value     TEXT NOT NULL DEFAULT '',
    scope_selector   TEXT NOT NULL DEFAULT '',
    success          BOOLEAN NOT NULL,
    failure          TEXT NOT NULL DEFAULT '',
    strategy         TEXT NOT NULL DEFAULT '',
    confidence       INTEGER NOT NULL DEFAULT 0,
    tactic           TEXT NOT NULL DEFAULT '',
    verification     TEXT NOT NULL DEFAULT '',
    diagnostics      JSONB NOT NULL,
    started_at       TIMESTAMPTZ NOT NULL,
    duration_ms      BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS resolution_candidates (
    resolution_id UUID NOT NULL REFERENCES resolutions (id) ON DELETE CASCADE,
    kind          TEXT NOT NULL,
    strategy      TEXT NOT NULL,
    tag           TEXT NOT NULL,
    text          TEXT NOT NULL DEFAULT '',
    fingerprint   TEXT NOT NULL DEFAULT '',
    confidence    INTEGER NOT NULL DEFAULT 0,
    reason        TEXT NOT NULL DEFAULT ''
);
`

const insertResolutionSQL = `
INSERT INTO resolutions (id, page_url, target_kind, target_attribute, target_value, scope_selector,
    success, failure, strategy, confidence, tactic, verification, diagnostics, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`

// Candidate row kinds.
const (
	CandidateNear     = "near"
	CandidateExcluded = "excluded"
)

var candidateColumns = []string{"resolution_id", "kind", "strategy", "tag", "text", "fingerprint", "confidence", "reason"}

// Store is a Postgres DiagnosticsSink.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.DiagnosticsSink = (*Store)(nil)

// New wraps an existing pool.
func New(pool DBPool, logger *zap.Logger) *Store {
	return &Store{pool: pool, log: logger.Named("store")}
}

// Open connects to url, verifies the connection and ensures the schema exists.
// The caller closes the returned pool.
func Open(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := New(pool, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// EnsureSchema creates the tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record writes one result row and its candidate rows in a single transaction.
func (s *Store) Record(ctx context.Context, r *schemas.Result) error {
	diagnostics, err := jsoniter.Marshal(r.Diagnostics)
	if err != nil {
		return fmt.Errorf("failed to encode diagnostics: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()

	var confidence int
	if r.Match != nil {
		confidence = r.Match.Confidence
	}
	var tactic schemas.TacticKind
	for _, a := range r.Attempts {
		if a.SucceededSyntactically {
			tactic = a.Tactic
		}
	}
	var verification schemas.VerificationMethod
	if r.Verification != nil {
		verification = r.Verification.Method
	}

	_, err = tx.Exec(ctx, insertResolutionSQL,
		r.ID, r.PageURL, string(r.Target.Kind), r.Target.Attribute, r.Target.Value, r.Target.ScopeSelector,
		r.Success, string(r.Failure), string(r.StrategyUsed), confidence, string(tactic), string(verification),
		diagnostics, r.StartedAt.UTC(), r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert resolution %s: %w", r.ID, err)
	}

	if rows := candidateRows(r); len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"resolution_candidates"}, candidateColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy candidates: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("mismatch in copied candidates count: expected %d, got %d", len(rows), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func candidateRows(r *schemas.Result) [][]any {
	rows := make([][]any, 0, len(r.Diagnostics.NearMatches)+len(r.Diagnostics.Excluded))
	for _, m := range r.Diagnostics.NearMatches {
		rows = append(rows, []any{
			r.ID, CandidateNear, string(m.Strategy), m.Element.Tag, m.Element.Text,
			m.Element.Fingerprint, m.Confidence, m.Reason,
		})
	}
	for _, x := range r.Diagnostics.Excluded {
		rows = append(rows, []any{
			r.ID, CandidateExcluded, string(x.Strategy), x.Element.Tag, x.Element.Text,
			x.Element.Fingerprint, 0, x.Zone + ": " + x.Marker,
		})
	}
	return rows
}
