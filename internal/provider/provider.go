// Package provider implements C2: a uniform façade over TVDB, TMDB,
// MusicBrainz and their fallbacks (OMDb, TVmaze). The FanartTV artwork client
// in provider/fanarttv is not registered with the gateway. It owns
// retry/backoff, per-provider rate limiting, and cache read-through so that
// internal/mapper and internal/anthology never talk to an HTTP client
// directly.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/namegnome/serve/internal/domain"
)

// ErrProviderUnavailable is returned when a provider call fails permanently
// (exhausted retries, or a non-429 4xx) or when offline mode forces a cache
// miss to surface rather than silently retrying.
var ErrProviderUnavailable = errors.New("provider unavailable")

// UnavailableError carries the offline flag spec.md §4.2 requires so callers
// can distinguish "network down" from "operator asked for offline mode".
type UnavailableError struct {
	Provider string
	Offline  bool
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Offline {
		return e.Provider + ": provider unavailable (offline)"
	}
	return e.Provider + ": provider unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return ErrProviderUnavailable }

// SearchQuery is the uniform search request across every provider domain.
type SearchQuery struct {
	Title string
	Year  int // domain.YearUnknown when absent
}

// EntityRef names a single provider entity for a detail fetch.
type EntityRef struct {
	Type  domain.MediaType
	ExtID string
}

// Searcher is the three-operation contract every concrete provider client
// implements (spec.md §4.2): search, fetch, list_children.
type Searcher interface {
	// Name identifies the provider for logging, cache keys, and fallback
	// selection (e.g. "tvdb", "tmdb", "musicbrainz").
	Name() string
	Search(ctx context.Context, q SearchQuery) ([]domain.ProviderEntity, error)
	Fetch(ctx context.Context, ref EntityRef) (domain.ProviderEntity, error)
	ListChildren(ctx context.Context, ref EntityRef) ([]domain.Episode, []domain.Track, error)
}

// poorData reports the "poor data" fallback predicate from spec.md §4.2: a
// series with zero episodes (and, by extension, an album with zero tracks)
// counts as a failed search even though the HTTP call itself succeeded.
func poorData(mediaType domain.MediaType, episodes []domain.Episode, tracks []domain.Track) bool {
	switch mediaType {
	case domain.MediaTV:
		return len(episodes) == 0
	case domain.MediaMusic:
		return len(tracks) == 0
	default:
		return false
	}
}

// cacheTTL returns the read-through TTL for a given cache domain, per
// spec.md §4.2's table.
func cacheTTL(kind string) time.Duration {
	switch kind {
	case "series":
		return 30 * 24 * time.Hour
	case "episodes":
		return 7 * 24 * time.Hour
	case "movie":
		return 30 * 24 * time.Hour
	case "album", "track":
		return 30 * 24 * time.Hour
	case "token":
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
