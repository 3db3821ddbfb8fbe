// Package tvdb implements provider.Searcher for TheTVDB v4 API, the primary
// TV provider. Unlike TMDB/OMDb, TVDB requires a login POST that exchanges
// an API key for a bearer token; the gateway's cache (not this client) owns
// that token's 24h TTL so every client instance shares one login per key.
package tvdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/namegnome/serve/internal/cache"
	"github.com/namegnome/serve/internal/domain"
	"github.com/namegnome/serve/internal/provider"
)

type loginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

type searchResult struct {
	ObjectID string `json:"objectID"`
	Name     string `json:"name"`
	Year     string `json:"year"`
	Type     string `json:"type"`
}

type searchResponse struct {
	Data []searchResult `json:"data"`
}

type episodeRow struct {
	Season  int    `json:"seasonNumber"`
	Episode int    `json:"number"`
	Name    string `json:"name"`
	Aired   string `json:"aired"`
}

type episodesResponse struct {
	Data struct {
		Episodes []episodeRow `json:"episodes"`
	} `json:"data"`
}

// Client is a provider.Searcher backed by TheTVDB v4 REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	store      *cache.Store

	mu    sync.Mutex
	token string
}

var _ provider.Searcher = (*Client)(nil)

// New constructs a TVDB client. store backs the shared bearer-token cache
// entry (key "tvdb:token", 24h TTL) so concurrent clients don't each log in.
func New(apiKey, baseURL string, store *cache.Store) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		store:      store,
	}
}

// Name implements provider.Searcher.
func (c *Client) Name() string { return "tvdb" }

// bearerToken returns a valid bearer token, logging in and caching the
// result under "tvdb:token" when the cached one is absent or stale.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	const cacheKey = "tvdb:token"

	if blob, ok, err := c.store.GetCacheBlob(ctx, cacheKey); err == nil && ok && !blob.Stale {
		return string(blob.Payload), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if blob, ok, err := c.store.GetCacheBlob(ctx, cacheKey); err == nil && ok && !blob.Stale {
		return string(blob.Payload), nil
	}

	body, err := json.Marshal(map[string]string{"apikey": c.apiKey})
	if err != nil {
		return "", fmt.Errorf("marshal login body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tvdb login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", provider.NewPermanentError(resp.StatusCode, fmt.Errorf("tvdb login returned %d", resp.StatusCode))
		}
		return "", fmt.Errorf("tvdb login returned %d", resp.StatusCode)
	}

	var payload loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode tvdb login response: %w", err)
	}
	if payload.Data.Token == "" {
		return "", fmt.Errorf("tvdb login returned empty token")
	}

	if err := c.store.PutCacheBlob(ctx, cacheKey, []byte(payload.Data.Token), 24*time.Hour); err != nil {
		return "", fmt.Errorf("cache tvdb token: %w", err)
	}
	return payload.Data.Token, nil
}

// Search implements provider.Searcher against TVDB's general search endpoint,
// filtered to series results.
func (c *Client) Search(ctx context.Context, q provider.SearchQuery) ([]domain.ProviderEntity, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{"query": {q.Title}, "type": {"series"}}
	if q.Year != domain.YearUnknown && q.Year > 0 {
		params.Set("year", strconv.Itoa(q.Year))
	}

	var payload searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/search", params, token, &payload); err != nil {
		return nil, err
	}

	entities := make([]domain.ProviderEntity, 0, len(payload.Data))
	for _, r := range payload.Data {
		year := domain.YearUnknown
		if y, err := strconv.Atoi(r.Year); err == nil {
			year = y
		}
		entities = append(entities, domain.ProviderEntity{
			Provider:  c.Name(),
			Type:      domain.MediaTV,
			ExtID:     r.ObjectID,
			TitleRaw:  r.Name,
			TitleNorm: strings.ToLower(strings.TrimSpace(r.Name)),
			Year:      year,
		})
	}
	return entities, nil
}

// Fetch implements provider.Searcher: series detail by TVDB series ID.
func (c *Client) Fetch(ctx context.Context, ref provider.EntityRef) (domain.ProviderEntity, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return domain.ProviderEntity{}, err
	}

	var payload struct {
		Data struct {
			Name      string `json:"name"`
			FirstAired string `json:"firstAired"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/series/%s", c.baseURL, ref.ExtID), nil, token, &payload); err != nil {
		return domain.ProviderEntity{}, err
	}

	year := domain.YearUnknown
	if len(payload.Data.FirstAired) >= 4 {
		if y, err := strconv.Atoi(payload.Data.FirstAired[:4]); err == nil {
			year = y
		}
	}
	return domain.ProviderEntity{
		Provider:  c.Name(),
		Type:      domain.MediaTV,
		ExtID:     ref.ExtID,
		TitleRaw:  payload.Data.Name,
		TitleNorm: strings.ToLower(strings.TrimSpace(payload.Data.Name)),
		Year:      year,
	}, nil
}

// ListChildren implements provider.Searcher: the full episode list for a
// series, across every season.
func (c *Client) ListChildren(ctx context.Context, ref provider.EntityRef) ([]domain.Episode, []domain.Track, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	var payload episodesResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/series/%s/episodes/default", c.baseURL, ref.ExtID), nil, token, &payload); err != nil {
		return nil, nil, err
	}

	episodes := make([]domain.Episode, 0, len(payload.Data.Episodes))
	for _, e := range payload.Data.Episodes {
		episodes = append(episodes, domain.Episode{
			Provider: c.Name(),
			SeriesID: ref.ExtID,
			Season:   e.Season,
			Episode:  e.Episode,
			Title:    e.Name,
			AirDate:  e.Aired,
		})
	}
	return episodes, nil, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, token string, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse tvdb url: %w", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

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
			return provider.NewRetryAfterError(retryAfter, fmt.Errorf("tvdb returned 429"))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return provider.NewPermanentError(resp.StatusCode, fmt.Errorf("tvdb returned %d", resp.StatusCode))
		}
		return fmt.Errorf("tvdb returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tvdb response: %w", err)
	}
	return nil
}
