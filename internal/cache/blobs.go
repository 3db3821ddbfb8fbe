package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Blob is a cache_entries row: an opaque provider response payload plus its
// absolute expiry instant.
type Blob struct {
	CacheKey  string
	Payload   []byte
	ExpiresAt time.Time
	Stale     bool
}

// GetCacheBlob returns the cached payload for key, if present. TTL
// interpretation is soft (P6): an expired row is still returned, flagged
// Stale, so the caller can decide whether to serve it while refreshing in
// the background or to treat it as a miss.
func (s *Store) GetCacheBlob(ctx context.Context, key string) (Blob, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE cache_key = ?`, key,
	)
	var (
		payload   []byte
		expiresAt string
	)
	if err := row.Scan(&payload, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Blob{}, false, nil
		}
		return Blob{}, false, fmt.Errorf("query cache blob: %w", err)
	}
	expires, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		// Corrupted row: evict and report a clean miss (corruption policy, §4.1).
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
		return Blob{}, false, nil
	}
	return Blob{
		CacheKey:  key,
		Payload:   payload,
		ExpiresAt: expires,
		Stale:     time.Now().After(expires),
	}, true, nil
}

// PutCacheBlob upserts a TTL-keyed payload.
func (s *Store) PutCacheBlob(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	expires := time.Now().UTC().Add(ttl)
	_, err := s.execWithRetry(ctx,
		`INSERT INTO cache_entries (cache_key, payload, expires_at)
         VALUES (?, ?, ?)
         ON CONFLICT(cache_key) DO UPDATE SET
            payload = excluded.payload,
            expires_at = excluded.expires_at`,
		key, payload, expires.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert cache blob: %w", err)
	}
	return nil
}

// EvictExpiredBlobs deletes every cache_entries row whose TTL has elapsed as
// of now, reclaiming space for entries callers chose not to stale-serve.
func (s *Store) EvictExpiredBlobs(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("evict expired blobs: %w", err)
	}
	return res.RowsAffected()
}
