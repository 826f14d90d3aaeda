package youtube

import (
	"net/url"
	"regexp"
	"strings"
)

// videoIDRe matches a bare 11-character YouTube video ID.
var videoIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// urlPatterns cover the link formats users paste: watch, /v/, /embed/,
// /shorts/ and the youtu.be short form.
var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/v/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`(?:https?://)?youtu\.be/([a-zA-Z0-9_-]{11})`),
}

// ExtractVideoID pulls the 11-character video ID out of any supported YouTube
// URL form, or accepts a bare ID. Returns a KindInvalidURL error otherwise.
func ExtractVideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	for _, re := range urlPatterns {
		if m := re.FindStringSubmatch(raw); len(m) >= 2 {
			return m[1], nil
		}
	}

	// Fall back to query-parameter parsing for URLs with extra params
	// ordered ahead of v=.
	if u, err := url.Parse(raw); err == nil {
		host := strings.TrimPrefix(u.Hostname(), "www.")
		if host == "youtube.com" || host == "youtu.be" {
			if v := u.Query().Get("v"); videoIDRe.MatchString(v) {
				return v, nil
			}
		}
	}

	if videoIDRe.MatchString(raw) {
		return raw, nil
	}

	return "", &Error{Kind: KindInvalidURL, Reason: "invalid YouTube URL format: " + raw}
}
