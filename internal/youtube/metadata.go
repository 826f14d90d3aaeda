package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	stealth "github.com/anatolykoptev/go-stealth"
	"golang.org/x/sync/errgroup"
)

// DefaultOEmbedURL is the production oEmbed endpoint for video metadata.
const DefaultOEmbedURL = "https://www.youtube.com/oembed"

// VideoMetadata describes a video as reported by the oEmbed endpoint.
type VideoMetadata struct {
	VideoID      string `json:"video_id"`
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// VideoMetadata fetches title/author/thumbnail for a video. The oEmbed
// endpoint is not blocked for datacenter traffic, so no proxy chain is
// involved; a 4xx means the video itself is gone.
func (s *Service) VideoMetadata(ctx context.Context, videoID string) (*VideoMetadata, error) {
	if !videoIDRe.MatchString(videoID) {
		return nil, &Error{Kind: KindInvalidURL, VideoID: videoID, Reason: "invalid video ID"}
	}
	metrics.MetadataRequests.Add(1)

	watchURL := "https://www.youtube.com/watch?v=" + videoID
	params := url.Values{"url": {watchURL}, "format": {"json"}}

	resp, err := stealth.RetryHTTP(ctx, stealth.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.oembedURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", stealth.RandomUserAgent())
		return s.client.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for %s: %w", videoID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden {
		return nil, &Error{Kind: KindContentUnavailable, VideoID: videoID, Reason: "video not found or unavailable"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oembed HTTP %d for %s", resp.StatusCode, videoID)
	}

	var data struct {
		Title        string `json:"title"`
		AuthorName   string `json:"author_name"`
		AuthorURL    string `json:"author_url"`
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256*1024)).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode oembed response: %w", err)
	}

	return &VideoMetadata{
		VideoID:      videoID,
		Title:        data.Title,
		AuthorName:   data.AuthorName,
		AuthorURL:    data.AuthorURL,
		ThumbnailURL: data.ThumbnailURL,
	}, nil
}

// VideoProcessingResult bundles metadata with the acquired transcript.
type VideoProcessingResult struct {
	Metadata   *VideoMetadata    `json:"metadata"`
	Transcript *TranscriptResult `json:"transcript"`
}

// ProcessVideo resolves a video URL and fetches metadata and transcript
// concurrently.
func (s *Service) ProcessVideo(ctx context.Context, rawURL string, languages []string) (*VideoProcessingResult, error) {
	videoID, err := ExtractVideoID(rawURL)
	if err != nil {
		return nil, err
	}

	var out VideoProcessingResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		md, err := s.VideoMetadata(gctx, videoID)
		if err != nil {
			return err
		}
		out.Metadata = md
		return nil
	})
	g.Go(func() error {
		tr, err := s.FetchTranscript(gctx, videoID, languages)
		if err != nil {
			return err
		}
		out.Transcript = tr
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidationResult reports whether a URL points at a reachable video.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	VideoID string `json:"video_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Author  string `json:"author,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ValidateURL checks the URL format and that the video exists.
func (s *Service) ValidateURL(ctx context.Context, rawURL string) ValidationResult {
	videoID, err := ExtractVideoID(rawURL)
	if err != nil {
		return ValidationResult{Valid: false, Error: "invalid YouTube URL format"}
	}
	md, err := s.VideoMetadata(ctx, videoID)
	if err != nil {
		if IsContentUnavailable(err) {
			return ValidationResult{Valid: false, VideoID: videoID, Error: "video not found or unavailable"}
		}
		return ValidationResult{Valid: false, VideoID: videoID, Error: err.Error()}
	}
	return ValidationResult{
		Valid:   true,
		VideoID: videoID,
		Title:   md.Title,
		Author:  md.AuthorName,
	}
}
