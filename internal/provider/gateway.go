package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/domain"
)

// route maps a media type to its primary provider and an ordered list of
// fallbacks, per spec.md §4.2's registry requirement.
type route struct {
	primary   Searcher
	fallbacks []Searcher
}

// Gateway is the registry + retry/rate-limit/cache orchestration layer that
// sits in front of every concrete provider Searcher.
type Gateway struct {
	store       *cache.Store
	routes      map[domain.MediaType]route
	limiters    map[string]*rate.Limiter
	maxAttempts int
	backoffBase time.Duration
	offline     bool
}

// GatewayOption configures a Gateway at construction time.
type GatewayOption func(*Gateway)

// WithOffline puts the gateway into offline mode: every call is served from
// the cache store only, and misses surface as ErrProviderUnavailable with
// Offline=true.
func WithOffline(offline bool) GatewayOption {
	return func(g *Gateway) { g.offline = offline }
}

// WithRetryPolicy overrides the default retry attempt count and backoff base.
func WithRetryPolicy(maxAttempts int, base time.Duration) GatewayOption {
	return func(g *Gateway) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if base > 0 {
			g.backoffBase = base
		}
	}
}

// NewGateway constructs a Gateway over store. Each provider's token bucket is
// sized individually via Register, per spec.md's per-provider rate limiting
// clause.
func NewGateway(store *cache.Store, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:       store,
		routes:      make(map[domain.MediaType]route),
		limiters:    make(map[string]*rate.Limiter),
		maxAttempts: 4,
		backoffBase: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register installs primary with an ordered list of fallbacks for mediaType,
// and allocates each searcher its own token bucket if it doesn't have one
// yet.
func (g *Gateway) Register(mediaType domain.MediaType, refillPerSecond float64, burst int, primary Searcher, fallbacks ...Searcher) {
	g.routes[mediaType] = route{primary: primary, fallbacks: fallbacks}
	for _, s := range append([]Searcher{primary}, fallbacks...) {
		if _, ok := g.limiters[s.Name()]; !ok {
			g.limiters[s.Name()] = rate.NewLimiter(rate.Limit(refillPerSecond), burst)
		}
	}
}

func (g *Gateway) limiterFor(name string) *rate.Limiter {
	if l, ok := g.limiters[name]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(2), 4)
	g.limiters[name] = l
	return l
}

// isPermanent reports whether err represents a 4xx (other than 429) that
// should surface immediately instead of retrying.
func isPermanent(err error) bool {
	var perr *permanentError
	return errors.As(err, &perr)
}

// permanentError wraps a non-retryable provider response (4xx other than
// 429).
type permanentError struct {
	status int
	err    error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// NewPermanentError wraps err as a non-retryable failure (a 4xx status other
// than 429). Concrete provider clients call this so the gateway's retry loop
// surfaces it immediately instead of burning attempts.
func NewPermanentError(status int, err error) error {
	return &permanentError{status: status, err: err}
}

// retryAfterError wraps a 429 response that carried a Retry-After duration
// the backoff loop should honor verbatim instead of its own schedule.
type retryAfterError struct {
	after time.Duration
	err   error
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// NewRetryAfterError wraps err with a server-supplied Retry-After duration.
func NewRetryAfterError(after time.Duration, err error) error {
	return &retryAfterError{after: after, err: err}
}

// withRetry runs op up to maxAttempts times with exponential backoff between
// attempts: delay = base*2^k ±25% jitter, for k in [0, maxAttempts-1). A
// permanentError aborts immediately without retrying and is returned wrapped
// in ErrProviderUnavailable; a retryAfterError's delay is honored verbatim for
// that attempt.
func (g *Gateway) withRetry(ctx context.Context, providerName string, op func(ctx context.Context) error) error {
	attempt := 0
	var lastErr error
	for attempt < g.maxAttempts {
		if err := g.limiterFor(providerName).Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if isPermanent(err) {
			return fmt.Errorf("%s: %w: %v", providerName, ErrProviderUnavailable, err)
		}
		attempt++
		if attempt >= g.maxAttempts {
			break
		}
		delay := g.nextDelay(attempt-1, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w (after %d attempts): %v", providerName, ErrProviderUnavailable, g.maxAttempts, lastErr)
}

func (g *Gateway) nextDelay(k int, err error) time.Duration {
	var raErr *retryAfterError
	if errors.As(err, &raErr) {
		return raErr.after
	}
	base := float64(g.backoffBase) * float64(backoffPow(k))
	jitter := base * 0.25
	delta := (rand.Float64()*2 - 1) * jitter
	return time.Duration(base + delta)
}

func backoffPow(k int) int {
	v := 1
	for i := 0; i < k; i++ {
		v *= 2
	}
	return v
}

// newExponentialBackOff is kept for components that want the library's own
// cursor (e.g. a future streaming retry) rather than this gateway's
// attempt-counted loop.
func newExponentialBackOff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0.25
	return b
}

// Search performs a read-through, fallback-aware search for mediaType. A
// Decision hit should be consulted by the caller (internal/mapper) before
// calling Search; Search always issues the query.
func (g *Gateway) Search(ctx context.Context, mediaType domain.MediaType, q SearchQuery) ([]domain.ProviderEntity, error) {
	r, ok := g.routes[mediaType]
	if !ok {
		return nil, fmt.Errorf("provider: no route registered for media type %q", mediaType)
	}

	searchers := append([]Searcher{r.primary}, r.fallbacks...)
	var lastErr error
	for i, s := range searchers {
		results, err := g.searchOne(ctx, s, mediaType, q)
		if err == nil && len(results) > 0 {
			return results, nil
		}
		if err != nil {
			lastErr = err
		}
		if i < len(searchers)-1 {
			slog.DebugContext(ctx, "provider search fallback",
				"provider", s.Name(), "media_type", string(mediaType))
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &UnavailableError{Provider: r.primary.Name(), Offline: g.offline, Err: errors.New("no results")}
}

func (g *Gateway) searchOne(ctx context.Context, s Searcher, mediaType domain.MediaType, q SearchQuery) ([]domain.ProviderEntity, error) {
	cacheKey := fmt.Sprintf("%s:search:%s:%d", s.Name(), q.Title, q.Year)

	if blob, ok, err := g.store.GetCacheBlob(ctx, cacheKey); err == nil && ok && !blob.Stale {
		var entities []domain.ProviderEntity
		if err := json.Unmarshal(blob.Payload, &entities); err == nil {
			return entities, nil
		}
	}

	if g.offline {
		if blob, ok, err := g.store.GetCacheBlob(ctx, cacheKey); err == nil && ok {
			var entities []domain.ProviderEntity
			if err := json.Unmarshal(blob.Payload, &entities); err == nil {
				return entities, nil
			}
		}
		return nil, &UnavailableError{Provider: s.Name(), Offline: true, Err: errors.New("cache miss in offline mode")}
	}

	var entities []domain.ProviderEntity
	err := g.withRetry(ctx, s.Name(), func(ctx context.Context) error {
		results, searchErr := s.Search(ctx, q)
		if searchErr != nil {
			return searchErr
		}
		entities = results
		return nil
	})
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(entities); err == nil {
		ttlKind := "series"
		if mediaType == domain.MediaMovie {
			ttlKind = "movie"
		} else if mediaType == domain.MediaMusic {
			ttlKind = "album"
		}
		_ = g.store.PutCacheBlob(ctx, cacheKey, payload, cacheTTL(ttlKind))
	}
	return entities, nil
}

// Fetch fetches a single entity by ref from the provider named providerName
// (fallbacks never apply to detail fetches per spec.md §4.2).
func (g *Gateway) Fetch(ctx context.Context, providerName string, ref EntityRef) (domain.ProviderEntity, error) {
	s := g.searcherNamed(providerName)
	if s == nil {
		return domain.ProviderEntity{}, fmt.Errorf("provider: unknown provider %q", providerName)
	}

	if entity, ok, err := g.store.GetEntity(ctx, providerName, ref.Type, ref.ExtID); err == nil && ok {
		return entity, nil
	}

	if g.offline {
		return domain.ProviderEntity{}, &UnavailableError{Provider: providerName, Offline: true, Err: errors.New("cache miss in offline mode")}
	}

	var entity domain.ProviderEntity
	err := g.withRetry(ctx, providerName, func(ctx context.Context) error {
		fetched, fetchErr := s.Fetch(ctx, ref)
		if fetchErr != nil {
			return fetchErr
		}
		entity = fetched
		return nil
	})
	if err != nil {
		return domain.ProviderEntity{}, err
	}

	_ = g.store.PutEntity(ctx, entity)
	return entity, nil
}

// ListChildren fetches episodes or tracks for ref from providerName, with
// cache read-through keyed by (provider, ext_id).
func (g *Gateway) ListChildren(ctx context.Context, providerName string, ref EntityRef) ([]domain.Episode, []domain.Track, error) {
	s := g.searcherNamed(providerName)
	if s == nil {
		return nil, nil, fmt.Errorf("provider: unknown provider %q", providerName)
	}

	if episodes, err := g.store.GetEpisodes(ctx, providerName, ref.ExtID); err == nil && len(episodes) > 0 {
		return episodes, nil, nil
	}
	if tracks, err := g.store.GetTracks(ctx, providerName, ref.ExtID); err == nil && len(tracks) > 0 {
		return nil, tracks, nil
	}

	if g.offline {
		return nil, nil, &UnavailableError{Provider: providerName, Offline: true, Err: errors.New("cache miss in offline mode")}
	}

	var episodes []domain.Episode
	var tracks []domain.Track
	err := g.withRetry(ctx, providerName, func(ctx context.Context) error {
		e, t, childErr := s.ListChildren(ctx, ref)
		if childErr != nil {
			return childErr
		}
		episodes, tracks = e, t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if poorData(ref.Type, episodes, tracks) {
		return nil, nil, &UnavailableError{Provider: providerName, Err: errors.New("poor data: empty child list")}
	}

	for i := range episodes {
		episodes[i].Provider = providerName
		episodes[i].SeriesID = ref.ExtID
	}
	for i := range tracks {
		tracks[i].Provider = providerName
		tracks[i].AlbumID = ref.ExtID
	}
	if len(episodes) > 0 {
		_ = g.store.PutEpisodes(ctx, episodes)
	}
	if len(tracks) > 0 {
		_ = g.store.PutTracks(ctx, tracks)
	}
	return episodes, tracks, nil
}

func (g *Gateway) searcherNamed(name string) Searcher {
	for _, r := range g.routes {
		if r.primary.Name() == name {
			return r.primary
		}
		for _, f := range r.fallbacks {
			if f.Name() == name {
				return f
			}
		}
	}
	return nil
}
