package server

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rick30-8-2024/Aitinerary/internal/proxy"
	"github.com/rick30-8-2024/Aitinerary/internal/youtube"
)

// TranscriptService is the slice of the acquisition service the HTTP layer
// needs. Narrowed to an interface so handler tests can stub it.
type TranscriptService interface {
	FetchTranscript(ctx context.Context, videoID string, languages []string) (*youtube.TranscriptResult, error)
	VideoMetadata(ctx context.Context, videoID string) (*youtube.VideoMetadata, error)
	ProcessVideo(ctx context.Context, rawURL string, languages []string) (*youtube.VideoProcessingResult, error)
	ValidateURL(ctx context.Context, rawURL string) youtube.ValidationResult
	ProxyStats() proxy.Stats
}

// New builds the echo instance with all routes registered.
func New(svc TranscriptService) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	h := &Handler{svc: svc}

	api := e.Group("/api/youtube")
	api.POST("/transcript", h.ExtractTranscripts)
	api.POST("/process", h.ProcessVideo)
	api.POST("/validate", h.ValidateURL)
	api.GET("/metadata/:videoID", h.VideoMetadata)
	api.GET("/proxy-stats", h.ProxyStats)

	e.GET("/healthz", h.Health)
	e.GET("/metrics", h.Metrics)

	return e
}
