package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rick30-8-2024/Aitinerary/internal/youtube"
)

// Handler serves the transcript acquisition API.
type Handler struct {
	svc TranscriptService
}

// TranscriptRequest asks for transcripts of one or more video URLs.
type TranscriptRequest struct {
	URLs      []string `json:"urls"`
	Languages []string `json:"languages,omitempty"`
}

// TranscriptEntry is the per-URL outcome: a transcript or a typed error.
type TranscriptEntry struct {
	Transcript *youtube.TranscriptResult `json:"transcript,omitempty"`
	Error      string                    `json:"error,omitempty"`
	ErrorKind  string                    `json:"error_kind,omitempty"`
}

// POST /api/youtube/transcript
func (h *Handler) ExtractTranscripts(c echo.Context) error {
	var req TranscriptRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.URLs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "urls must not be empty"})
	}

	results := make(map[string]TranscriptEntry, len(req.URLs))
	for _, rawURL := range req.URLs {
		videoID, err := youtube.ExtractVideoID(rawURL)
		if err != nil {
			results[rawURL] = errorEntry(err)
			continue
		}
		tr, err := h.svc.FetchTranscript(c.Request().Context(), videoID, req.Languages)
		if err != nil {
			results[rawURL] = errorEntry(err)
			continue
		}
		results[rawURL] = TranscriptEntry{Transcript: tr}
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// ProcessRequest asks for metadata plus transcript of a single URL.
type ProcessRequest struct {
	URL       string   `json:"url"`
	Languages []string `json:"languages,omitempty"`
}

// POST /api/youtube/process
func (h *Handler) ProcessVideo(c echo.Context) error {
	var req ProcessRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	out, err := h.svc.ProcessVideo(c.Request().Context(), req.URL, req.Languages)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// ValidateRequest carries the URL to check.
type ValidateRequest struct {
	URL string `json:"url"`
}

// POST /api/youtube/validate
func (h *Handler) ValidateURL(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	return c.JSON(http.StatusOK, h.svc.ValidateURL(c.Request().Context(), req.URL))
}

// GET /api/youtube/metadata/:videoID
func (h *Handler) VideoMetadata(c echo.Context) error {
	md, err := h.svc.VideoMetadata(c.Request().Context(), c.Param("videoID"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, md)
}

// GET /api/youtube/proxy-stats
func (h *Handler) ProxyStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.ProxyStats())
}

// GET /healthz
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GET /metrics
func (h *Handler) Metrics(c echo.Context) error {
	return c.String(http.StatusOK, youtube.FormatMetrics())
}

// statusFor maps the error taxonomy to HTTP status codes mechanically.
func statusFor(err error) int {
	kind, ok := youtube.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case youtube.KindInvalidURL:
		return http.StatusBadRequest
	case youtube.KindContentUnavailable:
		return http.StatusNotFound
	case youtube.KindAllSourcesExhausted:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorEntry(err error) TranscriptEntry {
	entry := TranscriptEntry{Error: err.Error()}
	if kind, ok := youtube.KindOf(err); ok {
		entry.ErrorKind = kind.String()
	}
	return entry
}

func errorResponse(c echo.Context, err error) error {
	body := map[string]string{"error": err.Error()}
	if kind, ok := youtube.KindOf(err); ok {
		body["error_kind"] = kind.String()
	}
	return c.JSON(statusFor(err), body)
}
