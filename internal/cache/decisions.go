package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/namegnome/serve/internal/domain"
)

// GetDecision returns the pinned (provider, ext_id) for a prior
// disambiguation, if the user already resolved this (scope, title_norm,
// year) combination. Decisions never expire implicitly (P8).
func (s *Store) GetDecision(ctx context.Context, scope, titleNorm string, year int) (domain.Decision, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT provider, ext_id, decided_at FROM decisions
         WHERE scope = ? AND title_norm = ? AND year = ?`,
		scope, titleNorm, year,
	)
	var provider, extID, decidedAt string
	if err := row.Scan(&provider, &extID, &decidedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Decision{}, false, nil
		}
		return domain.Decision{}, false, fmt.Errorf("query decision: %w", err)
	}
	decided, err := time.Parse(time.RFC3339, decidedAt)
	if err != nil {
		return domain.Decision{}, false, fmt.Errorf("parse decided_at: %w", err)
	}
	return domain.Decision{
		Scope:     scope,
		TitleNorm: titleNorm,
		Year:      year,
		Provider:  provider,
		ExtID:     extID,
		DecidedAt: decided,
	}, true, nil
}

// PutDecision persists a user's disambiguation choice.
func (s *Store) PutDecision(ctx context.Context, decision domain.Decision) error {
	decidedAt := decision.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO decisions (scope, title_norm, year, provider, ext_id, decided_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(scope, title_norm, year) DO UPDATE SET
            provider = excluded.provider,
            ext_id = excluded.ext_id,
            decided_at = excluded.decided_at`,
		decision.Scope, decision.TitleNorm, decision.Year,
		decision.Provider, decision.ExtID, decidedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert decision: %w", err)
	}
	return nil
}
