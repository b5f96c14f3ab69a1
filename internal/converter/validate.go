package converter

import (
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var videoHosts = map[string]bool{
	"youtube.com":              true,
	"www.youtube.com":          true,
	"m.youtube.com":            true,
	"music.youtube.com":        true,
	"gaming.youtube.com":       true,
	"youtu.be":                 true,
	"www.youtube-nocookie.com": true,
}

// pathPrefixes carry the video ID as the next path segment.
var pathPrefixes = []string{"/embed/", "/v/", "/shorts/", "/live/", "/e/"}

// ValidateURL reports whether raw is a YouTube video URL the resolver can
// handle. It never touches the network.
func ValidateURL(raw string) bool {
	_, ok := VideoID(raw)
	return ok
}

// VideoID extracts the 11 character video ID from a watch, short, embed or
// youtu.be URL.
func VideoID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if !videoHosts[host] {
		return "", false
	}

	var id string
	switch {
	case host == "youtu.be":
		id = strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
	case u.Query().Get("v") != "":
		id = u.Query().Get("v")
	default:
		for _, p := range pathPrefixes {
			if strings.HasPrefix(u.Path, p) {
				id = strings.SplitN(strings.TrimPrefix(u.Path, p), "/", 2)[0]
				break
			}
		}
	}

	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}
