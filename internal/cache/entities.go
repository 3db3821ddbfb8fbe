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

// ErrNotFound is returned when a lookup misses entirely (not even a stale row).
var ErrNotFound = errors.New("cache: not found")

// GetEntity returns the cached provider entity, if present. Corrupted rows
// (unparsable metadata) are evicted and reported as a miss per C1's
// corruption policy.
func (s *Store) GetEntity(ctx context.Context, provider string, mediaType domain.MediaType, extID string) (domain.ProviderEntity, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT title_norm, title_raw, year, metadata_json, fetched_at, ttl_seconds
         FROM entities WHERE provider = ? AND type = ? AND ext_id = ?`,
		provider, string(mediaType), extID,
	)

	var (
		titleNorm, titleRaw, metadataJSON, fetchedAt string
		year, ttlSeconds                             int
	)
	if err := row.Scan(&titleNorm, &titleRaw, &year, &metadataJSON, &fetchedAt, &ttlSeconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProviderEntity{}, false, nil
		}
		return domain.ProviderEntity{}, false, fmt.Errorf("query entity: %w", err)
	}

	metadata := map[string]any{}
	if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM entities WHERE provider = ? AND type = ? AND ext_id = ?`, provider, string(mediaType), extID)
		return domain.ProviderEntity{}, false, nil
	}

	fetched, err := time.Parse(time.RFC3339, fetchedAt)
	if err != nil {
		return domain.ProviderEntity{}, false, fmt.Errorf("parse fetched_at: %w", err)
	}

	return domain.ProviderEntity{
		Provider:   provider,
		Type:       mediaType,
		ExtID:      extID,
		TitleNorm:  titleNorm,
		TitleRaw:   titleRaw,
		Year:       year,
		Metadata:   metadata,
		FetchedAt:  fetched,
		TTLSeconds: ttlSeconds,
	}, true, nil
}

// IsEntityStale reports whether the entity's TTL has elapsed as of now.
func IsEntityStale(entity domain.ProviderEntity, now time.Time) bool {
	expires := entity.FetchedAt.Add(time.Duration(entity.TTLSeconds) * time.Second)
	return now.After(expires)
}

// PutEntity upserts a provider entity row.
func (s *Store) PutEntity(ctx context.Context, entity domain.ProviderEntity) error {
	metadataJSON, err := json.Marshal(entity.Metadata)
	if err != nil {
		return fmt.Errorf("marshal entity metadata: %w", err)
	}
	fetchedAt := entity.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO entities (provider, type, ext_id, title_norm, title_raw, year, metadata_json, fetched_at, ttl_seconds)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(provider, type, ext_id) DO UPDATE SET
            title_norm = excluded.title_norm,
            title_raw = excluded.title_raw,
            year = excluded.year,
            metadata_json = excluded.metadata_json,
            fetched_at = excluded.fetched_at,
            ttl_seconds = excluded.ttl_seconds`,
		entity.Provider, string(entity.Type), entity.ExtID,
		entity.TitleNorm, entity.TitleRaw, entity.Year, string(metadataJSON),
		fetchedAt.Format(time.RFC3339), entity.TTLSeconds,
	)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}
