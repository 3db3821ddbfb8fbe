// Package tvmaze implements provider.Searcher for the TVmaze API, a
// fallback for TV searches when TVDB's primary route is exhausted or
// returns poor data.
package tvmaze

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

type show struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Premiered string `json:"premiered"`
}

type searchHit struct {
	Show show `json:"show"`
}

type episodeRow struct {
	Season  int    `json:"season"`
	Number  int    `json:"number"`
	Name    string `json:"name"`
	Airdate string `json:"airdate"`
}

// Client is a provider.Searcher backed by the TVmaze API, which requires no
// API key.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ provider.Searcher = (*Client)(nil)

// New constructs a TVmaze client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements provider.Searcher.
func (c *Client) Name() string { return "tvmaze" }

// Search implements provider.Searcher. TVmaze's search doesn't support a
// year filter server-side; any Year in q is left to the caller to
// post-filter.
func (c *Client) Search(ctx context.Context, q provider.SearchQuery) ([]domain.ProviderEntity, error) {
	params := url.Values{"q": {q.Title}}
	var hits []searchHit
	if err := c.getJSON(ctx, c.baseURL+"/search/shows", params, &hits); err != nil {
		return nil, err
	}

	entities := make([]domain.ProviderEntity, 0, len(hits))
	for _, h := range hits {
		year := domain.YearUnknown
		if len(h.Show.Premiered) >= 4 {
			if y, err := strconv.Atoi(h.Show.Premiered[:4]); err == nil {
				year = y
			}
		}
		entities = append(entities, domain.ProviderEntity{
			Provider:  c.Name(),
			Type:      domain.MediaTV,
			ExtID:     strconv.Itoa(h.Show.ID),
			TitleRaw:  h.Show.Name,
			TitleNorm: strings.ToLower(strings.TrimSpace(h.Show.Name)),
			Year:      year,
		})
	}
	return entities, nil
}

// Fetch implements provider.Searcher: show detail by TVmaze show ID.
func (c *Client) Fetch(ctx context.Context, ref provider.EntityRef) (domain.ProviderEntity, error) {
	var payload show
	if err := c.getJSON(ctx, fmt.Sprintf("%s/shows/%s", c.baseURL, ref.ExtID), nil, &payload); err != nil {
		return domain.ProviderEntity{}, err
	}
	year := domain.YearUnknown
	if len(payload.Premiered) >= 4 {
		if y, err := strconv.Atoi(payload.Premiered[:4]); err == nil {
			year = y
		}
	}
	return domain.ProviderEntity{
		Provider:  c.Name(),
		Type:      domain.MediaTV,
		ExtID:     ref.ExtID,
		TitleRaw:  payload.Name,
		TitleNorm: strings.ToLower(strings.TrimSpace(payload.Name)),
		Year:      year,
	}, nil
}

// ListChildren implements provider.Searcher: the show's full episode list.
func (c *Client) ListChildren(ctx context.Context, ref provider.EntityRef) ([]domain.Episode, []domain.Track, error) {
	var rows []episodeRow
	if err := c.getJSON(ctx, fmt.Sprintf("%s/shows/%s/episodes", c.baseURL, ref.ExtID), nil, &rows); err != nil {
		return nil, nil, err
	}
	episodes := make([]domain.Episode, 0, len(rows))
	for _, r := range rows {
		episodes = append(episodes, domain.Episode{
			Provider: c.Name(),
			SeriesID: ref.ExtID,
			Season:   r.Season,
			Episode:  r.Number,
			Title:    r.Name,
			AirDate:  r.Airdate,
		})
	}
	return episodes, nil, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse tvmaze url: %w", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

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
			return provider.NewRetryAfterError(2*time.Second, fmt.Errorf("tvmaze returned 429"))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return provider.NewPermanentError(resp.StatusCode, fmt.Errorf("tvmaze returned %d", resp.StatusCode))
		}
		return fmt.Errorf("tvmaze returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tvmaze response: %w", err)
	}
	return nil
}
