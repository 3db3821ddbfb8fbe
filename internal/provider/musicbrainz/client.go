// Package musicbrainz implements provider.Searcher for the MusicBrainz web
// service, the primary provider for music (artist/release/track lookups).
package musicbrainz

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

type artistCredit struct {
	Name string `json:"name"`
}

type releaseGroup struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	FirstReleaseDate string         `json:"first-release-date"`
	ArtistCredit     []artistCredit `json:"artist-credit"`
}

// artistName joins a release-group's artist-credit list the way MusicBrainz
// displays it: just the primary credited name when there's one artist.
func artistName(credits []artistCredit) string {
	if len(credits) == 0 {
		return ""
	}
	names := make([]string, 0, len(credits))
	for _, c := range credits {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return strings.Join(names, " & ")
}

type searchResponse struct {
	ReleaseGroups []releaseGroup `json:"release-groups"`
}

type releaseDetails struct {
	Media []struct {
		Position int `json:"position"`
		Tracks   []struct {
			Position int    `json:"position"`
			Title    string `json:"title"`
		} `json:"tracks"`
	} `json:"media"`
}

// Client is a provider.Searcher backed by the MusicBrainz JSON web service.
// MusicBrainz asks API consumers to identify themselves via a contact string
// in the User-Agent, not an API key (config.Providers.MusicBrainzContact).
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

var _ provider.Searcher = (*Client)(nil)

// New constructs a MusicBrainz client.
func New(baseURL, contact string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "namegnome-serve/1.0 (" + contact + ")",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements provider.Searcher.
func (c *Client) Name() string { return "musicbrainz" }

// Search implements provider.Searcher against release-group search, which
// models an "album" in NameGnome's domain terms.
func (c *Client) Search(ctx context.Context, q provider.SearchQuery) ([]domain.ProviderEntity, error) {
	query := fmt.Sprintf(`releasegroup:"%s"`, q.Title)
	if q.Year != domain.YearUnknown && q.Year > 0 {
		query += fmt.Sprintf(` AND first_release_date:[%d-01-01 TO %d-12-31]`, q.Year, q.Year)
	}
	params := url.Values{"query": {query}, "fmt": {"json"}}

	var payload searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/release-group", params, &payload); err != nil {
		return nil, err
	}

	entities := make([]domain.ProviderEntity, 0, len(payload.ReleaseGroups))
	for _, rg := range payload.ReleaseGroups {
		year := domain.YearUnknown
		if len(rg.FirstReleaseDate) >= 4 {
			if y, err := strconv.Atoi(rg.FirstReleaseDate[:4]); err == nil {
				year = y
			}
		}
		entities = append(entities, domain.ProviderEntity{
			Provider:  c.Name(),
			Type:      domain.MediaMusic,
			ExtID:     rg.ID,
			TitleRaw:  rg.Title,
			TitleNorm: strings.ToLower(strings.TrimSpace(rg.Title)),
			Year:      year,
			Metadata:  map[string]any{"artist": artistName(rg.ArtistCredit)},
		})
	}
	return entities, nil
}

// Fetch implements provider.Searcher: a release-group by MBID. MusicBrainz
// exposes little beyond what Search already returned, so this round-trips
// through the same lookup-by-id endpoint for a consistent Entity shape.
func (c *Client) Fetch(ctx context.Context, ref provider.EntityRef) (domain.ProviderEntity, error) {
	var payload releaseGroup
	if err := c.getJSON(ctx, fmt.Sprintf("%s/release-group/%s", c.baseURL, ref.ExtID), url.Values{"fmt": {"json"}, "inc": {"artist-credits"}}, &payload); err != nil {
		return domain.ProviderEntity{}, err
	}
	year := domain.YearUnknown
	if len(payload.FirstReleaseDate) >= 4 {
		if y, err := strconv.Atoi(payload.FirstReleaseDate[:4]); err == nil {
			year = y
		}
	}
	return domain.ProviderEntity{
		Provider:  c.Name(),
		Type:      domain.MediaMusic,
		ExtID:     ref.ExtID,
		TitleRaw:  payload.Title,
		TitleNorm: strings.ToLower(strings.TrimSpace(payload.Title)),
		Year:      year,
		Metadata:  map[string]any{"artist": artistName(payload.ArtistCredit)},
	}, nil
}

// ListChildren implements provider.Searcher: track list for the release
// group's first release.
func (c *Client) ListChildren(ctx context.Context, ref provider.EntityRef) ([]domain.Episode, []domain.Track, error) {
	var group struct {
		Releases []struct {
			ID string `json:"id"`
		} `json:"releases"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/release-group/%s", c.baseURL, ref.ExtID), url.Values{"fmt": {"json"}, "inc": {"releases"}}, &group); err != nil {
		return nil, nil, err
	}
	if len(group.Releases) == 0 {
		return nil, nil, nil
	}

	params := url.Values{"fmt": {"json"}, "inc": {"recordings"}}
	var payload releaseDetails
	if err := c.getJSON(ctx, fmt.Sprintf("%s/release/%s", c.baseURL, group.Releases[0].ID), params, &payload); err != nil {
		return nil, nil, err
	}

	var tracks []domain.Track
	for _, medium := range payload.Media {
		for _, t := range medium.Tracks {
			tracks = append(tracks, domain.Track{
				Provider: c.Name(),
				AlbumID:  ref.ExtID,
				Disc:     medium.Position,
				Track:    t.Position,
				Title:    t.Title,
			})
		}
	}
	return nil, tracks, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse musicbrainz url: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			return provider.NewRetryAfterError(2*time.Second, fmt.Errorf("musicbrainz returned 429"))
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return provider.NewPermanentError(resp.StatusCode, fmt.Errorf("musicbrainz returned %d", resp.StatusCode))
		}
		return fmt.Errorf("musicbrainz returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode musicbrainz response: %w", err)
	}
	return nil
}
