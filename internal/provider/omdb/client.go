// Package omdb implements provider.Searcher for the OMDb API, a fallback
// for movie searches when TMDB's primary route is exhausted or returns poor
// data.
package omdb

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

type searchEntry struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	ImdbID string `json:"imdbID"`
}

type searchResponse struct {
	Search   []searchEntry `json:"Search"`
	Response string        `json:"Response"`
	Error    string        `json:"Error"`
}

type detailResponse struct {
	Title    string `json:"Title"`
	Year     string `json:"Year"`
	ImdbID   string `json:"imdbID"`
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

// Client is a provider.Searcher backed by the OMDb API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ provider.Searcher = (*Client)(nil)

// New constructs an OMDb client.
func New(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements provider.Searcher.
func (c *Client) Name() string { return "omdb" }

// Search implements provider.Searcher.
func (c *Client) Search(ctx context.Context, q provider.SearchQuery) ([]domain.ProviderEntity, error) {
	params := url.Values{"s": {q.Title}, "type": {"movie"}, "apikey": {c.apiKey}}
	if q.Year != domain.YearUnknown && q.Year > 0 {
		params.Set("y", strconv.Itoa(q.Year))
	}

	var payload searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/", params, &payload); err != nil {
		return nil, err
	}
	if payload.Response == "False" {
		return nil, nil
	}

	entities := make([]domain.ProviderEntity, 0, len(payload.Search))
	for _, r := range payload.Search {
		year := domain.YearUnknown
		if y, err := strconv.Atoi(strings.TrimSuffix(r.Year, "–")); err == nil {
			year = y
		}
		entities = append(entities, domain.ProviderEntity{
			Provider:  c.Name(),
			Type:      domain.MediaMovie,
			ExtID:     r.ImdbID,
			TitleRaw:  r.Title,
			TitleNorm: strings.ToLower(strings.TrimSpace(r.Title)),
			Year:      year,
		})
	}
	return entities, nil
}

// Fetch implements provider.Searcher: movie detail by IMDb ID.
func (c *Client) Fetch(ctx context.Context, ref provider.EntityRef) (domain.ProviderEntity, error) {
	params := url.Values{"i": {ref.ExtID}, "apikey": {c.apiKey}}
	var payload detailResponse
	if err := c.getJSON(ctx, c.baseURL+"/", params, &payload); err != nil {
		return domain.ProviderEntity{}, err
	}
	if payload.Response == "False" {
		return domain.ProviderEntity{}, fmt.Errorf("omdb: %s", payload.Error)
	}
	year := domain.YearUnknown
	if y, err := strconv.Atoi(payload.Year); err == nil {
		year = y
	}
	return domain.ProviderEntity{
		Provider:  c.Name(),
		Type:      domain.MediaMovie,
		ExtID:     payload.ImdbID,
		TitleRaw:  payload.Title,
		TitleNorm: strings.ToLower(strings.TrimSpace(payload.Title)),
		Year:      year,
	}, nil
}

// ListChildren implements provider.Searcher. OMDb only covers movies, which
// have no children.
func (c *Client) ListChildren(ctx context.Context, ref provider.EntityRef) ([]domain.Episode, []domain.Track, error) {
	return nil, nil, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse omdb url: %w", err)
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
			return provider.NewRetryAfterError(2*time.Second, fmt.Errorf("omdb returned 429"))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return provider.NewPermanentError(resp.StatusCode, fmt.Errorf("omdb returned %d", resp.StatusCode))
		}
		return fmt.Errorf("omdb returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode omdb response: %w", err)
	}
	return nil
}
