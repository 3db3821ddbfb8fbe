package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/namegnome/serve/internal/domain"
)

// PendingDisambiguation is a disambiguation token awaiting resolution,
// persisted so the caller can resume the planning pass on any process
// after resolving it (C6).
type PendingDisambiguation struct {
	Token      string
	ScanID     string
	Field      string
	TitleNorm  string
	Year       int
	Candidates []domain.Candidate
	Suggested  string
	Resolved   bool
	CreatedAt  time.Time
}

// PutDisambiguation persists a newly-minted pending disambiguation.
// TitleNorm and Year are carried so a later Resolve can write the Decision
// row under the same (scope, title_norm, year) key resolveEntity looked it
// up under, without the caller having to re-derive them from the token.
func (s *Store) PutDisambiguation(ctx context.Context, pending PendingDisambiguation) error {
	candidatesJSON, err := json.Marshal(pending.Candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	createdAt := pending.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO disambiguations (token, scan_id, field, title_norm, year, candidates_json, suggested, resolved, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		pending.Token, pending.ScanID, pending.Field, pending.TitleNorm, pending.Year,
		string(candidatesJSON), pending.Suggested, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert disambiguation: %w", err)
	}
	return nil
}

// GetDisambiguation fetches a pending (or resolved) disambiguation by token.
func (s *Store) GetDisambiguation(ctx context.Context, token string) (PendingDisambiguation, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT scan_id, field, title_norm, year, candidates_json, suggested, resolved, created_at
         FROM disambiguations WHERE token = ?`, token,
	)
	var (
		scanID, field, titleNorm, candidatesJSON, suggested, createdAt string
		year, resolved                                                int
	)
	if err := row.Scan(&scanID, &field, &titleNorm, &year, &candidatesJSON, &suggested, &resolved, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingDisambiguation{}, false, nil
		}
		return PendingDisambiguation{}, false, fmt.Errorf("query disambiguation: %w", err)
	}
	var candidates []domain.Candidate
	if err := json.Unmarshal([]byte(candidatesJSON), &candidates); err != nil {
		return PendingDisambiguation{}, false, fmt.Errorf("unmarshal candidates: %w", err)
	}
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return PendingDisambiguation{}, false, fmt.Errorf("parse created_at: %w", err)
	}
	return PendingDisambiguation{
		Token:      token,
		ScanID:     scanID,
		Field:      field,
		TitleNorm:  titleNorm,
		Year:       year,
		Candidates: candidates,
		Suggested:  suggested,
		Resolved:   resolved != 0,
		CreatedAt:  created,
	}, true, nil
}

// ResolveDisambiguation marks token resolved and persists the chosen
// (provider, ext_id) as a Decision for the given scope so future plans
// don't re-prompt (P8).
func (s *Store) ResolveDisambiguation(ctx context.Context, token, scope, titleNorm string, year int, provider, extID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolve tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE disambiguations SET resolved = 1 WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("mark disambiguation resolved: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if affected == 0 {
		return fmt.Errorf("disambiguation %s: %w", token, ErrNotFound)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO decisions (scope, title_norm, year, provider, ext_id, decided_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(scope, title_norm, year) DO UPDATE SET
            provider = excluded.provider, ext_id = excluded.ext_id, decided_at = excluded.decided_at`,
		scope, titleNorm, year, provider, extID, now,
	); err != nil {
		return fmt.Errorf("upsert decision: %w", err)
	}

	return tx.Commit()
}
