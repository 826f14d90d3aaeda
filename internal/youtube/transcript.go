package youtube

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"

	stealth "github.com/anatolykoptev/go-stealth"
)

// Segment is one timed line of a transcript.
type Segment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`    // seconds from video start
	Duration float64 `json:"duration"` // seconds
}

// TranscriptResult is the typed result handed to consumers (the itinerary
// generator, the HTTP API).
type TranscriptResult struct {
	VideoID      string    `json:"video_id"`
	Language     string    `json:"language"`
	LanguageCode string    `json:"language_code"`
	IsGenerated  bool      `json:"is_generated"`
	Segments     []Segment `json:"segments"`
	FullText     string    `json:"full_text"`
}

// pickTrack selects the caption track to fetch: a manually created track in a
// preferred language, then an auto-generated one, then any English track,
// then whatever is first. Returns false only when tracks is empty.
func pickTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	if len(tracks) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range tracks {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range tracks {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range tracks {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return tracks[0], true
}

var transcriptTagRe = regexp.MustCompile(`<[^>]+>`)

// cleanTranscriptText strips markup tags and decodes the double-escaped HTML
// entities timedtext is known to emit.
func cleanTranscriptText(s string) string {
	return strings.TrimSpace(html.UnescapeString(transcriptTagRe.ReplaceAllString(s, "")))
}

// fetchTimedText downloads and parses a caption track's timedtext XML.
func fetchTimedText(ctx context.Context, client *http.Client, baseURL string) ([]Segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", stealth.RandomUserAgent())
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch timedtext: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timedtext HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, err
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("parse timedtext XML: %w", err)
	}

	segments := make([]Segment, 0, len(tt.Lines))
	for _, line := range tt.Lines {
		text := cleanTranscriptText(line.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Text: text, Start: line.Start, Duration: line.Dur})
	}
	return segments, nil
}

// joinSegments builds the space-joined full transcript text.
func joinSegments(segments []Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(seg.Text)
	}
	return sb.String()
}

// fetchTranscriptOnce performs one complete transcript retrieval through the
// given client: /player for the caption track list, language selection, then
// the timedtext download. Content-level dead ends come back as terminal
// *Error values; everything else is a transient failure for the caller's
// retry machinery.
func fetchTranscriptOnce(ctx context.Context, client *http.Client, baseURL, videoID string, langs []string) (*TranscriptResult, error) {
	playerResp, err := fetchPlayerResponse(ctx, client, baseURL, videoID)
	if err != nil {
		return nil, err
	}

	status := ""
	reason := ""
	if ps := playerResp.PlayabilityStatus; ps != nil {
		status = ps.Status
		reason = ps.Reason
	}
	// ERROR means the video itself is gone. LOGIN_REQUIRED and friends are
	// IP-level rejections a different proxy may get past, so they stay
	// transient.
	if status == "ERROR" {
		if reason == "" {
			reason = "video unavailable"
		}
		return nil, &Error{Kind: KindContentUnavailable, VideoID: videoID, Reason: reason}
	}

	if playerResp.Captions == nil {
		if status == "OK" {
			return nil, &Error{Kind: KindContentUnavailable, VideoID: videoID, Reason: "transcripts are disabled for this video"}
		}
		return nil, fmt.Errorf("no captions in player response (status %q, reason %q)", status, reason)
	}

	tracks := playerResp.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	track, ok := pickTrack(tracks, langs)
	if !ok {
		return nil, &Error{Kind: KindContentUnavailable, VideoID: videoID, Reason: "no transcript available for this video"}
	}

	segments, err := fetchTimedText(ctx, client, track.BaseURL)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty transcript segments for video %s", videoID)
	}

	language := track.Name.SimpleText
	if language == "" {
		language = track.LanguageCode
	}
	return &TranscriptResult{
		VideoID:      videoID,
		Language:     language,
		LanguageCode: track.LanguageCode,
		IsGenerated:  track.Kind == "asr",
		Segments:     segments,
		FullText:     joinSegments(segments),
	}, nil
}
