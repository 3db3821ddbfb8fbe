package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/namegnome/serve/internal/domain"
)

// AcquireLock attempts to take the named advisory lock for owner. A lock
// whose acquired_at predates now-staleAfter is treated as orphaned (owner
// crashed without releasing) and is stolen. Returns acquired=false plus the
// current holder's Lock when another live owner holds it.
func (s *Store) AcquireLock(ctx context.Context, name, owner string, staleAfter time.Duration) (bool, domain.Lock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, domain.Lock{}, fmt.Errorf("begin lock tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	var existingOwner, existingAcquiredAt string
	err = tx.QueryRowContext(ctx, `SELECT owner, acquired_at FROM locks WHERE name = ?`, name).
		Scan(&existingOwner, &existingAcquiredAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO locks (name, owner, acquired_at) VALUES (?, ?, ?)`,
			name, owner, now.Format(time.RFC3339)); err != nil {
			return false, domain.Lock{}, fmt.Errorf("insert lock: %w", err)
		}
		return true, domain.Lock{Name: name, Owner: owner, AcquiredAt: now}, tx.Commit()
	case err != nil:
		return false, domain.Lock{}, fmt.Errorf("query lock: %w", err)
	}

	acquiredAt, parseErr := time.Parse(time.RFC3339, existingAcquiredAt)
	if parseErr != nil {
		acquiredAt = now
	}

	if existingOwner == owner {
		// Same owner re-entering (e.g. resumed job): refresh the heartbeat.
		if _, err := tx.ExecContext(ctx, `UPDATE locks SET acquired_at = ? WHERE name = ?`, now.Format(time.RFC3339), name); err != nil {
			return false, domain.Lock{}, fmt.Errorf("refresh lock: %w", err)
		}
		return true, domain.Lock{Name: name, Owner: owner, AcquiredAt: now}, tx.Commit()
	}

	if now.Sub(acquiredAt) > staleAfter {
		if _, err := tx.ExecContext(ctx, `UPDATE locks SET owner = ?, acquired_at = ? WHERE name = ?`, owner, now.Format(time.RFC3339), name); err != nil {
			return false, domain.Lock{}, fmt.Errorf("steal orphaned lock: %w", err)
		}
		return true, domain.Lock{Name: name, Owner: owner, AcquiredAt: now}, tx.Commit()
	}

	return false, domain.Lock{Name: name, Owner: existingOwner, AcquiredAt: acquiredAt}, nil
}

// ReleaseLock releases name, but only if owner currently holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.execWithRetry(ctx, `DELETE FROM locks WHERE name = ? AND owner = ?`, name, owner)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// IsLockHeld reports whether name is currently held, and by whom.
func (s *Store) IsLockHeld(ctx context.Context, name string) (domain.Lock, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT owner, acquired_at FROM locks WHERE name = ?`, name)
	var owner, acquiredAt string
	if err := row.Scan(&owner, &acquiredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Lock{}, false, nil
		}
		return domain.Lock{}, false, fmt.Errorf("query lock: %w", err)
	}
	acquired, err := time.Parse(time.RFC3339, acquiredAt)
	if err != nil {
		return domain.Lock{}, false, fmt.Errorf("parse acquired_at: %w", err)
	}
	return domain.Lock{Name: name, Owner: owner, AcquiredAt: acquired}, true, nil
}
