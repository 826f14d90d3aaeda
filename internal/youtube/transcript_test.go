package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func track(lang, kind string) captionTrack {
	t := captionTrack{LanguageCode: lang, Kind: kind}
	t.Name.SimpleText = lang
	return t
}

func TestPickTrack(t *testing.T) {
	tests := []struct {
		name     string
		tracks   []captionTrack
		langs    []string
		wantLang string
		wantKind string
		wantOK   bool
	}{
		{
			name:     "manual beats generated in same language",
			tracks:   []captionTrack{track("en", "asr"), track("en", "")},
			langs:    []string{"en"},
			wantLang: "en", wantKind: "", wantOK: true,
		},
		{
			name:     "generated used when no manual track",
			tracks:   []captionTrack{track("en", "asr"), track("de", "")},
			langs:    []string{"en"},
			wantLang: "en", wantKind: "asr", wantOK: true,
		},
		{
			name:     "language preference order respected",
			tracks:   []captionTrack{track("fr", ""), track("de", "")},
			langs:    []string{"de", "fr"},
			wantLang: "de", wantKind: "", wantOK: true,
		},
		{
			name:     "english prefix fallback",
			tracks:   []captionTrack{track("ja", ""), track("en-GB", "")},
			langs:    []string{"es"},
			wantLang: "en-GB", wantKind: "", wantOK: true,
		},
		{
			name:     "first track as last resort",
			tracks:   []captionTrack{track("ja", ""), track("ko", "")},
			langs:    []string{"es"},
			wantLang: "ja", wantKind: "", wantOK: true,
		},
		{
			name:   "empty track list",
			tracks: nil,
			langs:  []string{"en"},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickTrack(tt.tracks, tt.langs)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.LanguageCode != tt.wantLang || got.Kind != tt.wantKind {
				t.Errorf("picked %s/%q, want %s/%q", got.LanguageCode, got.Kind, tt.wantLang, tt.wantKind)
			}
		})
	}
}

func TestCleanTranscriptText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"<i>emphasis</i> kept", "emphasis kept"},
		{"it&amp;#39;s fine", "it's fine"},
		{"  padded  ", "padded"},
		{"<b></b>", ""},
	}
	for _, tt := range tests {
		if got := cleanTranscriptText(tt.in); got != tt.want {
			t.Errorf("cleanTranscriptText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJoinSegments(t *testing.T) {
	segs := []Segment{{Text: "hello"}, {Text: "world"}}
	if got := joinSegments(segs); got != "hello world" {
		t.Errorf("got %q", got)
	}
	if got := joinSegments(nil); got != "" {
		t.Errorf("got %q for empty input", got)
	}
}

// fakeInnertube serves a minimal /player endpoint plus a timedtext document,
// so the full single-attempt path runs against local HTTP.
func fakeInnertube(t *testing.T, player func() (int, any), timedtext string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/player", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		code, body := player()
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/timedtext", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, timedtext)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func playerWithTrack(baseURL string) any {
	return map[string]any{
		"playabilityStatus": map[string]any{"status": "OK"},
		"captions": map[string]any{
			"playerCaptionsTracklistRenderer": map[string]any{
				"captionTracks": []map[string]any{
					{
						"baseUrl":      baseURL + "/timedtext",
						"languageCode": "en",
						"name":         map[string]any{"simpleText": "English"},
					},
				},
			},
		},
	}
}

func TestFetchTranscriptOnce(t *testing.T) {
	const ttXML = `<?xml version="1.0"?><transcript>` +
		`<text start="0.5" dur="1.2">hello &amp;amp; welcome</text>` +
		`<text start="1.7" dur="2.0">&lt;i&gt;to the show&lt;/i&gt;</text>` +
		`<text start="3.7" dur="0.5">   </text>` +
		`</transcript>`

	var srv *httptest.Server
	srv = fakeInnertube(t, func() (int, any) {
		return http.StatusOK, playerWithTrack(srv.URL)
	}, ttXML)

	res, err := fetchTranscriptOnce(context.Background(), srv.Client(), srv.URL, "dQw4w9WgXcQ", []string{"en"})
	require.NoError(t, err)
	require.Equal(t, "dQw4w9WgXcQ", res.VideoID)
	require.Equal(t, "English", res.Language)
	require.Equal(t, "en", res.LanguageCode)
	require.False(t, res.IsGenerated)
	require.Len(t, res.Segments, 2)
	require.Equal(t, Segment{Text: "hello & welcome", Start: 0.5, Duration: 1.2}, res.Segments[0])
	require.Equal(t, "hello & welcome to the show", res.FullText)
}

func TestFetchTranscriptOnceVideoGone(t *testing.T) {
	srv := fakeInnertube(t, func() (int, any) {
		return http.StatusOK, map[string]any{
			"playabilityStatus": map[string]any{"status": "ERROR", "reason": "Video unavailable"},
		}
	}, "")

	_, err := fetchTranscriptOnce(context.Background(), srv.Client(), srv.URL, "dQw4w9WgXcQ", []string{"en"})
	require.Error(t, err)
	require.True(t, IsContentUnavailable(err), "want content_unavailable, got %v", err)
}

func TestFetchTranscriptOnceCaptionsDisabled(t *testing.T) {
	srv := fakeInnertube(t, func() (int, any) {
		return http.StatusOK, map[string]any{
			"playabilityStatus": map[string]any{"status": "OK"},
		}
	}, "")

	_, err := fetchTranscriptOnce(context.Background(), srv.Client(), srv.URL, "dQw4w9WgXcQ", []string{"en"})
	require.Error(t, err)
	require.True(t, IsContentUnavailable(err), "want content_unavailable, got %v", err)
}

func TestFetchTranscriptOnceLoginWallIsTransient(t *testing.T) {
	srv := fakeInnertube(t, func() (int, any) {
		return http.StatusOK, map[string]any{
			"playabilityStatus": map[string]any{"status": "LOGIN_REQUIRED", "reason": "Sign in to confirm you're not a bot"},
		}
	}, "")

	_, err := fetchTranscriptOnce(context.Background(), srv.Client(), srv.URL, "dQw4w9WgXcQ", []string{"en"})
	require.Error(t, err)
	if _, terminal := KindOf(err); terminal {
		t.Fatalf("login wall must stay transient, got %v", err)
	}
}

func TestFetchTranscriptOnceEmptySegmentsIsTransient(t *testing.T) {
	var srv *httptest.Server
	srv = fakeInnertube(t, func() (int, any) {
		return http.StatusOK, playerWithTrack(srv.URL)
	}, `<?xml version="1.0"?><transcript></transcript>`)

	_, err := fetchTranscriptOnce(context.Background(), srv.Client(), srv.URL, "dQw4w9WgXcQ", []string{"en"})
	require.Error(t, err)
	if _, terminal := KindOf(err); terminal {
		t.Fatalf("empty transcript must stay transient, got %v", err)
	}
}

func TestFetchTranscriptOncePlayerHTTPError(t *testing.T) {
	srv := fakeInnertube(t, func() (int, any) {
		return http.StatusTooManyRequests, map[string]any{}
	}, "")

	_, err := fetchTranscriptOnce(context.Background(), srv.Client(), srv.URL, "dQw4w9WgXcQ", []string{"en"})
	require.Error(t, err)
	if _, terminal := KindOf(err); terminal {
		t.Fatalf("HTTP 429 must stay transient, got %v", err)
	}
}
