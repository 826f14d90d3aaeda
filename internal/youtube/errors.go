package youtube

import (
	"errors"
	"fmt"
)

// Kind classifies the errors that cross the package boundary. Transient
// upstream failures (network, timeout, malformed response) never surface;
// they are absorbed into proxy-health updates by the fetch loop.
type Kind int

const (
	// KindInvalidURL marks a malformed video URL or identifier. No retry,
	// no tier traversal.
	KindInvalidURL Kind = iota
	// KindContentUnavailable marks content that genuinely cannot be
	// retrieved: the video is gone, transcripts are disabled, or no
	// transcript exists. Terminal from any tier — no proxy changes this.
	KindContentUnavailable
	// KindAllSourcesExhausted marks a run where direct, free-proxy and
	// manual-proxy tiers were all attempted and none succeeded.
	KindAllSourcesExhausted
)

// String returns the kind name used in logs and API error payloads.
func (k Kind) String() string {
	switch k {
	case KindInvalidURL:
		return "invalid_url"
	case KindContentUnavailable:
		return "content_unavailable"
	case KindAllSourcesExhausted:
		return "all_sources_exhausted"
	}
	return "unknown"
}

// Error is the typed failure returned by this package's operations.
type Error struct {
	Kind    Kind
	VideoID string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.VideoID != "" {
		msg = fmt.Sprintf("%s (video %s)", msg, e.VideoID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, if err came from this package.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// isTerminal reports whether err must stop the fetch run immediately instead
// of advancing to the next candidate or tier.
func isTerminal(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindContentUnavailable || k == KindInvalidURL)
}

// IsContentUnavailable reports whether err means the content genuinely has no
// retrievable transcript, as opposed to being unreachable right now.
func IsContentUnavailable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindContentUnavailable
}

// IsInvalidURL reports whether err marks a malformed URL or video ID.
func IsInvalidURL(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindInvalidURL
}

// IsExhausted reports whether err marks an exhausted fallback chain.
func IsExhausted(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindAllSourcesExhausted
}
