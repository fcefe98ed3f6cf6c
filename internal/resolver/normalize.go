package resolver

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for input that is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid URL")

var youtubeHosts = map[string]bool{
	"youtube.com":              true,
	"www.youtube.com":          true,
	"m.youtube.com":            true,
	"music.youtube.com":        true,
	"youtube-nocookie.com":     true,
	"www.youtube-nocookie.com": true,
}

// Normalize validates raw and, for YouTube URLs, reduces it to the canonical
// watch URL carrying only the video id. Playlist and tracking parameters are
// dropped so they never leak into single-video resolution. Other URLs are
// returned trimmed.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ErrInvalidURL
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrInvalidURL
	}

	host := strings.ToLower(u.Hostname())
	if id := youtubeID(host, u); id != "" {
		return "https://www.youtube.com/watch?v=" + url.QueryEscape(id), nil
	}
	return raw, nil
}

func youtubeID(host string, u *url.URL) string {
	if host == "youtu.be" {
		return firstSegment(u.Path)
	}
	if !youtubeHosts[host] {
		return ""
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	for _, prefix := range []string{"/shorts/", "/embed/", "/live/", "/v/"} {
		if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
			return firstSegment(rest)
		}
	}
	return ""
}

func firstSegment(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return seg
}
