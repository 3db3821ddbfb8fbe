package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/namegnome/serve/internal/domain"
)

// GetEpisodes returns every cached episode for (provider, seriesID), sorted
// by (season, episode). Episode numbers within a season need not be
// contiguous (spec §3, Episode invariant).
func (s *Store) GetEpisodes(ctx context.Context, provider, seriesID string) ([]domain.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT season, episode, title, air_date, metadata_json
         FROM episodes WHERE provider = ? AND series_id = ?
         ORDER BY season, episode`,
		provider, seriesID,
	)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var episodes []domain.Episode
	for rows.Next() {
		var (
			season, episode          int
			title, airDate, metaJSON string
		)
		if err := rows.Scan(&season, &episode, &title, &airDate, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		metadata := map[string]any{}
		if err := json.Unmarshal([]byte(metaJSON), &metadata); err != nil {
			continue // corrupted row: skip rather than fail the whole list
		}
		episodes = append(episodes, domain.Episode{
			Provider: provider,
			SeriesID: seriesID,
			Season:   season,
			Episode:  episode,
			Title:    title,
			AirDate:  airDate,
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}
	return episodes, nil
}

// PutEpisodes upserts a batch of canonical episodes in one transaction.
func (s *Store) PutEpisodes(ctx context.Context, episodes []domain.Episode) error {
	if len(episodes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin episodes tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO episodes (provider, series_id, season, episode, title, air_date, metadata_json)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(provider, series_id, season, episode) DO UPDATE SET
            title = excluded.title,
            air_date = excluded.air_date,
            metadata_json = excluded.metadata_json`,
	)
	if err != nil {
		return fmt.Errorf("prepare episode upsert: %w", err)
	}
	defer stmt.Close()

	for _, ep := range episodes {
		metaJSON, err := json.Marshal(ep.Metadata)
		if err != nil {
			return fmt.Errorf("marshal episode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ep.Provider, ep.SeriesID, ep.Season, ep.Episode, ep.Title, ep.AirDate, string(metaJSON)); err != nil {
			return fmt.Errorf("upsert episode %d/%d: %w", ep.Season, ep.Episode, err)
		}
	}
	return tx.Commit()
}

// GetTracks returns every cached track for (provider, albumID), sorted by
// (disc, track).
func (s *Store) GetTracks(ctx context.Context, provider, albumID string) ([]domain.Track, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT disc, track, title, metadata_json FROM tracks
         WHERE provider = ? AND album_id = ? ORDER BY disc, track`,
		provider, albumID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []domain.Track
	for rows.Next() {
		var (
			disc, track      int
			title, metaJSON  string
		)
		if err := rows.Scan(&disc, &track, &title, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		metadata := map[string]any{}
		if err := json.Unmarshal([]byte(metaJSON), &metadata); err != nil {
			continue
		}
		tracks = append(tracks, domain.Track{
			Provider: provider,
			AlbumID:  albumID,
			Disc:     disc,
			Track:    track,
			Title:    title,
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	sort.Slice(tracks, func(i, j int) bool {
		if tracks[i].Disc != tracks[j].Disc {
			return tracks[i].Disc < tracks[j].Disc
		}
		return tracks[i].Track < tracks[j].Track
	})
	return tracks, nil
}

// PutTracks upserts a batch of canonical tracks in one transaction.
func (s *Store) PutTracks(ctx context.Context, tracks []domain.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tracks tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tracks (provider, album_id, disc, track, title, metadata_json)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(provider, album_id, disc, track) DO UPDATE SET
            title = excluded.title,
            metadata_json = excluded.metadata_json`,
	)
	if err != nil {
		return fmt.Errorf("prepare track upsert: %w", err)
	}
	defer stmt.Close()

	for _, tr := range tracks {
		metaJSON, err := json.Marshal(tr.Metadata)
		if err != nil {
			return fmt.Errorf("marshal track metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, tr.Provider, tr.AlbumID, tr.Disc, tr.Track, tr.Title, string(metaJSON)); err != nil {
			return fmt.Errorf("upsert track %d/%d: %w", tr.Disc, tr.Track, err)
		}
	}
	return tx.Commit()
}
