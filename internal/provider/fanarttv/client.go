// Package fanarttv implements an artwork lookup client for FanartTV. Unlike
// the other provider packages it does not implement provider.Searcher —
// FanartTV has no search or episode/track listing, only "given a TVDB/TMDB
// id, return artwork URLs" — so it is not registered with the gateway. No
// other package in this module calls it.
package fanarttv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Artwork is the subset of FanartTV's per-title payload NameGnome surfaces:
// a poster URL for the plan item's explain metadata.
type Artwork struct {
	PosterURL string
}

type tvResponse struct {
	TVPoster []struct {
		URL string `json:"url"`
	} `json:"tvposter"`
}

type movieResponse struct {
	MoviePoster []struct {
		URL string `json:"url"`
	} `json:"movieposter"`
}

// Client fetches cover art for a resolved TV series or movie by its TVDB or
// TMDB id.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New constructs a FanartTV client.
func New(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SeriesArtwork fetches poster art for a TVDB series id.
func (c *Client) SeriesArtwork(ctx context.Context, tvdbID string) (Artwork, error) {
	var payload tvResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/tv/%s", c.baseURL, tvdbID), &payload); err != nil {
		return Artwork{}, err
	}
	if len(payload.TVPoster) == 0 {
		return Artwork{}, nil
	}
	return Artwork{PosterURL: payload.TVPoster[0].URL}, nil
}

// MovieArtwork fetches poster art for a TMDB movie id.
func (c *Client) MovieArtwork(ctx context.Context, tmdbID string) (Artwork, error) {
	var payload movieResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/movies/%s", c.baseURL, tmdbID), &payload); err != nil {
		return Artwork{}, err
	}
	if len(payload.MoviePoster) == 0 {
		return Artwork{}, nil
	}
	return Artwork{PosterURL: payload.MoviePoster[0].URL}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse fanarttv url: %w", err)
	}
	params := url.Values{"api_key": {c.apiKey}}
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

	if resp.StatusCode == http.StatusNotFound {
		return nil // no artwork on file; not an error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fanarttv returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode fanarttv response: %w", err)
	}
	return nil
}
