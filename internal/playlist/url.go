/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"net/url"
	"regexp"
	"strings"
)

var playlistIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{10,64}$`)

var knownHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

// ParsePlaylistURL extracts the playlist id from a share URL or returns a bare id unchanged.
func ParsePlaylistURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}

	if playlistIDPattern.MatchString(raw) {
		return raw, nil
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	if !knownHosts[strings.ToLower(u.Hostname())] {
		return "", ErrInvalidURL
	}

	id := u.Query().Get("list")
	if !playlistIDPattern.MatchString(id) {
		return "", ErrInvalidURL
	}
	return id, nil
}

// IsValidID reports whether id looks like a playlist id.
func IsValidID(id string) bool {
	return playlistIDPattern.MatchString(id)
}
