/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/playplan/internal/telemetry"
	"github.com/friendsincode/playplan/internal/version"
)

const (
	// DefaultBaseURL is the public video data API endpoint.
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"
	pageSize       = 50
)

// ClientConfig configures the upstream API client.
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	MaxItems int // Stop paging after this many entries (0 = 5000)
}

// Client talks to the video data API.
type Client struct {
	baseURL    string
	apiKey     string
	maxItems   int
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates an upstream client with a traced transport.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxItems := cfg.MaxItems
	if maxItems <= 0 {
		maxItems = 5000
	}

	return &Client{
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		maxItems: maxItems,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "playlist_client").Logger(),
		now:    time.Now,
	}
}

type playlistsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
}

type playlistItemsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			Title    string `json:"title"`
			Position int    `json:"position"`
		} `json:"snippet"`
		ContentDetails struct {
			VideoID string `json:"videoId"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// FetchPlaylist loads playlist metadata and video durations in playlist order.
// Entries the API returns no duration for (private or deleted videos) are skipped.
func (c *Client) FetchPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	if !IsValidID(playlistID) {
		return nil, ErrInvalidURL
	}

	pl, err := c.fetchPlaylist(ctx, playlistID)
	if err != nil {
		telemetry.PlaylistFetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	telemetry.PlaylistFetchTotal.WithLabelValues("ok").Inc()
	return pl, nil
}

func (c *Client) fetchPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	var meta playlistsResponse
	if err := c.get(ctx, "playlists", url.Values{"part": {"snippet"}, "id": {playlistID}}, &meta); err != nil {
		return nil, fmt.Errorf("fetch playlist %s: %w", playlistID, err)
	}
	if len(meta.Items) == 0 {
		return nil, ErrNotFound
	}

	pl := &Playlist{
		ID:           playlistID,
		Title:        meta.Items[0].Snippet.Title,
		ChannelTitle: meta.Items[0].Snippet.ChannelTitle,
		FetchedAt:    c.now().UTC(),
	}

	var entries []Video
	pageToken := ""
	for len(entries) < c.maxItems {
		params := url.Values{
			"part":       {"snippet,contentDetails"},
			"playlistId": {playlistID},
			"maxResults": {fmt.Sprint(pageSize)},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page playlistItemsResponse
		if err := c.get(ctx, "playlistItems", params, &page); err != nil {
			return nil, fmt.Errorf("fetch playlist items %s: %w", playlistID, err)
		}
		for _, item := range page.Items {
			if item.ContentDetails.VideoID == "" {
				continue
			}
			entries = append(entries, Video{
				ID:       item.ContentDetails.VideoID,
				Title:    item.Snippet.Title,
				Position: item.Snippet.Position,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(entries) > c.maxItems {
		entries = entries[:c.maxItems]
	}

	durations := make(map[string]float64, len(entries))
	known := make(map[string]bool, len(entries))
	for start := 0; start < len(entries); start += pageSize {
		end := start + pageSize
		if end > len(entries) {
			end = len(entries)
		}
		ids := make([]string, 0, end-start)
		for _, v := range entries[start:end] {
			ids = append(ids, v.ID)
		}

		var videos videosResponse
		if err := c.get(ctx, "videos", url.Values{"part": {"contentDetails"}, "id": {strings.Join(ids, ",")}}, &videos); err != nil {
			return nil, fmt.Errorf("fetch video durations: %w", err)
		}
		for _, v := range videos.Items {
			minutes, err := ParseISODuration(v.ContentDetails.Duration)
			if err != nil {
				c.logger.Warn().Err(err).Str("video_id", v.ID).Msg("skipping video with unparseable duration")
				continue
			}
			durations[v.ID] = minutes
			known[v.ID] = true
		}
	}

	pl.Videos = make([]Video, 0, len(entries))
	skipped := 0
	for _, v := range entries {
		if !known[v.ID] {
			skipped++
			continue
		}
		v.DurationMinutes = durations[v.ID]
		pl.Videos = append(pl.Videos, v)
	}

	c.logger.Debug().
		Str("playlist_id", playlistID).
		Int("videos", len(pl.Videos)).
		Int("skipped", skipped).
		Msg("playlist fetched")

	return pl, nil
}

func (c *Client) get(ctx context.Context, resource string, params url.Values, dest any) error {
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, resource, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return ErrQuotaExceeded
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", resource, err)
	}
	return nil
}
