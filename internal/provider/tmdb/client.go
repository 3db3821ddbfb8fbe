// Package tmdb implements provider.Searcher for The Movie Database, used as
// the primary provider for movies and as a TV fallback.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/provider"
)

type searchResult struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Name         string `json:"name"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type movieDetails struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
}

// Client is a provider.Searcher backed by the TMDB v3 REST API.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	httpClient *http.Client
}

var _ provider.Searcher = (*Client)(nil)

// New constructs a TMDB client from config.Providers.TMDBAPIKey/TMDBBaseURL.
func New(apiKey, baseURL, language string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements provider.Searcher.
func (c *Client) Name() string { return "tmdb" }

// Search implements provider.Searcher against TMDB's movie search endpoint.
// TMDB is registered as the movie primary and the tv fallback; as a tv
// fallback it uses /search/tv instead.
func (c *Client) Search(ctx context.Context, q provider.SearchQuery) ([]domain.ProviderEntity, error) {
	return c.searchMovie(ctx, q)
}

func (c *Client) searchMovie(ctx context.Context, q provider.SearchQuery) ([]domain.ProviderEntity, error) {
	params := url.Values{"query": {q.Title}, "api_key": {c.apiKey}}
	if c.language != "" {
		params.Set("language", c.language)
	}
	if q.Year != domain.YearUnknown && q.Year > 0 {
		params.Set("primary_release_year", strconv.Itoa(q.Year))
	}

	var payload searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/search/movie", params, &payload); err != nil {
		return nil, err
	}

	entities := make([]domain.ProviderEntity, 0, len(payload.Results))
	for _, r := range payload.Results {
		entities = append(entities, domain.ProviderEntity{
			Provider:  c.Name(),
			Type:      domain.MediaMovie,
			ExtID:     strconv.FormatInt(r.ID, 10),
			TitleRaw:  r.Title,
			TitleNorm: normalizeTitle(r.Title),
			Year:      yearFromDate(r.ReleaseDate),
		})
	}
	return entities, nil
}

// SearchTV searches TMDB's TV endpoint; used only when tmdb is registered as
// the tv fallback provider.
func (c *Client) SearchTV(ctx context.Context, q provider.SearchQuery) ([]domain.ProviderEntity, error) {
	params := url.Values{"query": {q.Title}, "api_key": {c.apiKey}}
	if c.language != "" {
		params.Set("language", c.language)
	}
	if q.Year != domain.YearUnknown && q.Year > 0 {
		params.Set("first_air_date_year", strconv.Itoa(q.Year))
	}

	var payload searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/search/tv", params, &payload); err != nil {
		return nil, err
	}

	entities := make([]domain.ProviderEntity, 0, len(payload.Results))
	for _, r := range payload.Results {
		entities = append(entities, domain.ProviderEntity{
			Provider:  c.Name(),
			Type:      domain.MediaTV,
			ExtID:     strconv.FormatInt(r.ID, 10),
			TitleRaw:  r.Name,
			TitleNorm: normalizeTitle(r.Name),
			Year:      yearFromDate(r.FirstAirDate),
		})
	}
	return entities, nil
}

// Fetch implements provider.Searcher: movie detail by TMDB ID.
func (c *Client) Fetch(ctx context.Context, ref provider.EntityRef) (domain.ProviderEntity, error) {
	params := url.Values{"api_key": {c.apiKey}}
	if c.language != "" {
		params.Set("language", c.language)
	}
	var payload movieDetails
	if err := c.getJSON(ctx, fmt.Sprintf("%s/movie/%s", c.baseURL, ref.ExtID), params, &payload); err != nil {
		return domain.ProviderEntity{}, err
	}
	return domain.ProviderEntity{
		Provider:  c.Name(),
		Type:      domain.MediaMovie,
		ExtID:     ref.ExtID,
		TitleRaw:  payload.Title,
		TitleNorm: normalizeTitle(payload.Title),
		Year:      yearFromDate(payload.ReleaseDate),
	}, nil
}

// ListChildren implements provider.Searcher and always returns no children.
// In the default registry TMDB is also the last TV fallback, so a series found
// through it reaches this method, and the gateway then reports the empty
// episode list as poor data (an UnavailableError).
func (c *Client) ListChildren(ctx context.Context, ref provider.EntityRef) ([]domain.Episode, []domain.Track, error) {
	return nil, nil, nil
}

func yearFromDate(date string) int {
	if len(date) < 4 {
		return domain.YearUnknown
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return domain.YearUnknown
	}
	return y
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse tmdb url: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := 1 * time.Second
			if v := resp.Header.Get("Retry-After"); v != "" {
				if secs, err := strconv.Atoi(v); err == nil {
					retryAfter = time.Duration(secs) * time.Second
				}
			}
			return provider.NewRetryAfterError(retryAfter, fmt.Errorf("tmdb returned 429"))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return provider.NewPermanentError(resp.StatusCode, fmt.Errorf("tmdb returned %d", resp.StatusCode))
		}
		return fmt.Errorf("tmdb returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tmdb response: %w", err)
	}
	return nil
}
