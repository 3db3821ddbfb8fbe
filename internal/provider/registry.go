package provider

import (
	"context"
	"time"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/config"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/provider/musicbrainz"
	"github.com/namegnome/serve/internal/provider/omdb"
	"github.com/namegnome/serve/internal/provider/tmdb"
	"github.com/namegnome/serve/internal/provider/tvdb"
	"github.com/namegnome/serve/internal/provider/tvmaze"
)

// tmdbTVFallback adapts tmdb.Client for use as the TV fallback route: its
// Search method here calls TMDB's /search/tv instead of the movie endpoint
// the embedded Client.Search (used for the movie route) hits. Fetch/
// ListChildren are promoted unchanged from the embedded Client.
type tmdbTVFallback struct{ *tmdb.Client }

func (s tmdbTVFallback) Search(ctx context.Context, q SearchQuery) ([]domain.ProviderEntity, error) {
	return s.Client.SearchTV(ctx, q)
}

// NewDefaultGateway builds the Gateway the daemon wires at startup: TVDB
// primary for TV (TVmaze, then TMDB's /search/tv, as fallbacks), TMDB
// primary for movies (OMDb fallback), and MusicBrainz alone for music — it
// has no comparably-licensed fallback in this stack.
func NewDefaultGateway(cfg *config.Config, store *cache.Store) *Gateway {
	gw := NewGateway(store,
		WithOffline(cfg.Providers.Offline),
		WithRetryPolicy(cfg.Providers.MaxAttempts, 500*time.Millisecond))

	tvdbClient := tvdb.New(cfg.Providers.TVDBAPIKey, cfg.Providers.TVDBBaseURL, store)
	tmdbClient := tmdb.New(cfg.Providers.TMDBAPIKey, cfg.Providers.TMDBBaseURL, cfg.Providers.TMDBLanguage)
	tvmazeClient := tvmaze.New(cfg.Providers.TVMazeBaseURL)
	omdbClient := omdb.New(cfg.Providers.OMDBAPIKey, cfg.Providers.OMDBBaseURL)
	musicbrainzClient := musicbrainz.New(cfg.Providers.MusicBrainzBaseURL, cfg.Providers.MusicBrainzContact)

	gw.Register(domain.MediaTV, cfg.RateLimit.RefillPerSecond, cfg.RateLimit.Burst,
		tvdbClient, tvmazeClient, tmdbTVFallback{tmdbClient})
	gw.Register(domain.MediaMovie, cfg.RateLimit.RefillPerSecond, cfg.RateLimit.Burst,
		tmdbClient, omdbClient)
	gw.Register(domain.MediaMusic, cfg.RateLimit.RefillPerSecond, cfg.RateLimit.Burst,
		musicbrainzClient)

	return gw
}
