package youtube

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rick30-8-2024/Aitinerary/internal/proxy"
)

// Tier attempt limits and backoff bounds for the fallback chain.
const (
	maxFreeCandidates = 10
	backoffBase       = 2.0
	backoffMax        = 30 * time.Second
)

// Config holds everything the acquisition service needs, injected from main.
type Config struct {
	Pools            *proxy.Manager
	Cache            *Cache        // nil disables caching
	MaxManualRetries int           // manual-tier attempt budget
	AttemptTimeout   time.Duration // per upstream attempt
	DelayMin         time.Duration // anti-fingerprinting pre-request delay
	DelayMax         time.Duration
	MaxConcurrent    int64   // bound on concurrent upstream calls
	UpstreamRPS      float64 // process-wide rate limit toward the platform
	InnertubeBaseURL string  // override for tests
	OEmbedURL        string  // override for tests
	HTTPClient       *http.Client
}

// fetchFunc performs one complete transcript retrieval through the given
// proxy ("" = direct). Swappable in tests.
type fetchFunc func(ctx context.Context, proxyURL, videoID string, languages []string) (*TranscriptResult, error)

// Service acquires transcripts from the video platform through the tiered
// fallback chain: direct, then the free-proxy pool, then the manual pool.
// One Service is safe for concurrent use; independent fetch invocations run
// concurrently and share only the pool state.
type Service struct {
	pools            *proxy.Manager
	cache            *Cache
	maxManualRetries int
	attemptTimeout   time.Duration
	delayMin         time.Duration
	delayMax         time.Duration
	innertubeBase    string
	oembedURL        string
	client           *http.Client

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	fetch     fetchFunc
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// NewService constructs the acquisition service. Zero config fields get
// defaults matching the production platform.
func NewService(cfg Config) *Service {
	if cfg.Pools == nil {
		cfg.Pools = proxy.NewManager(nil, nil)
	}
	if cfg.MaxManualRetries <= 0 {
		cfg.MaxManualRetries = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	if cfg.DelayMin < 0 {
		cfg.DelayMin = 0
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.UpstreamRPS <= 0 {
		cfg.UpstreamRPS = 2
	}
	if cfg.InnertubeBaseURL == "" {
		cfg.InnertubeBaseURL = DefaultInnertubeBaseURL
	}
	if cfg.OEmbedURL == "" {
		cfg.OEmbedURL = DefaultOEmbedURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.AttemptTimeout}
	}

	s := &Service{
		pools:            cfg.Pools,
		cache:            cfg.Cache,
		maxManualRetries: cfg.MaxManualRetries,
		attemptTimeout:   cfg.AttemptTimeout,
		delayMin:         cfg.DelayMin,
		delayMax:         cfg.DelayMax,
		innertubeBase:    cfg.InnertubeBaseURL,
		oembedURL:        cfg.OEmbedURL,
		client:           cfg.HTTPClient,
		sem:              semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter:          rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), 1),
		sleep:            sleepCtx,
		randFloat:        rand.Float64,
	}
	s.fetch = s.fetchUpstream
	return s
}

// Start warms the free-proxy pool in the background so the first fetch does
// not pay for the initial listing download.
func (s *Service) Start(ctx context.Context) {
	if !s.pools.HasFreeProxies() {
		return
	}
	go func() {
		if _, err := s.pools.FreeCandidates(ctx, 1); err != nil {
			slog.Warn("youtube: free pool warm-up failed", slog.Any("error", err))
		}
	}()
}

// Stop releases resources held by the service.
func (s *Service) Stop() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// ProxyStats exposes the pool statistics for the observability endpoint.
func (s *Service) ProxyStats() proxy.Stats {
	return s.pools.Stats()
}

// FetchTranscript retrieves the transcript for videoID with the given
// language preferences, walking the fallback chain until a tier succeeds or
// a terminal content error ends the run. Only invalid-URL, content-unavailable
// and all-sources-exhausted errors cross this boundary.
func (s *Service) FetchTranscript(ctx context.Context, videoID string, languages []string) (*TranscriptResult, error) {
	if !videoIDRe.MatchString(videoID) {
		return nil, &Error{Kind: KindInvalidURL, VideoID: videoID, Reason: "invalid video ID"}
	}
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	if s.cache != nil {
		if res, ok := s.cache.Get(ctx, videoID, languages); ok {
			return res, nil
		}
	}
	metrics.FetchRequests.Add(1)

	res, err := s.fetchTiered(ctx, videoID, languages)
	if err != nil {
		if IsContentUnavailable(err) {
			metrics.ContentErrors.Add(1)
		}
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, videoID, languages, res)
	}
	return res, nil
}

// fetchTiered is the fetch state machine: Direct → FreeProxyPool →
// ManualProxyPool → Exhausted. Transitions happen on transient failure only;
// success or a terminal error ends the run from whatever tier it occurred in.
func (s *Service) fetchTiered(ctx context.Context, videoID string, languages []string) (*TranscriptResult, error) {
	slog.Debug("youtube: fetching transcript", slog.String("video_id", videoID))

	res, err := s.attempt(ctx, "", videoID, languages)
	if err == nil {
		metrics.DirectSuccesses.Add(1)
		slog.Info("youtube: direct fetch succeeded", slog.String("video_id", videoID))
		return res, nil
	}
	if isTerminal(err) {
		return nil, err
	}
	metrics.DirectFailures.Add(1)
	slog.Warn("youtube: direct fetch failed, trying free proxies",
		slog.String("video_id", videoID), slog.Any("error", err))

	if s.pools.HasFreeProxies() {
		if res, err := s.fetchViaFreePool(ctx, videoID, languages); err == nil || isTerminal(err) {
			return res, err
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if s.pools.HasManualProxies() {
		if res, err := s.fetchViaManualPool(ctx, videoID, languages); err == nil || isTerminal(err) {
			return res, err
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	metrics.ExhaustedFailures.Add(1)
	return nil, &Error{
		Kind:    KindAllSourcesExhausted,
		VideoID: videoID,
		Reason:  "all proxy attempts failed; the video may be blocked or all proxies are unavailable",
	}
}

// tierExhaustedError is an internal transient marker: a tier ran out of
// candidates without a result. Never crosses the package boundary.
type tierExhaustedError struct{ tier proxy.Tier }

func (e *tierExhaustedError) Error() string { return e.tier.String() + " tier exhausted" }

// fetchViaFreePool walks up to maxFreeCandidates free proxies best-first.
func (s *Service) fetchViaFreePool(ctx context.Context, videoID string, languages []string) (*TranscriptResult, error) {
	candidates, err := s.pools.FreeCandidates(ctx, maxFreeCandidates)
	if err != nil {
		slog.Warn("youtube: free proxy listing unavailable", slog.Any("error", err))
		return nil, &tierExhaustedError{proxy.TierFree}
	}

	for i, endpoint := range candidates {
		if err := s.applyRequestDelay(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		res, err := s.attempt(ctx, endpoint, videoID, languages)
		elapsed := time.Since(start)

		if err == nil {
			s.pools.RecordOutcome(proxy.TierFree, endpoint, true, elapsed)
			metrics.FreeSuccesses.Add(1)
			slog.Info("youtube: free proxy succeeded",
				slog.String("video_id", videoID),
				slog.String("proxy", endpoint),
				slog.Duration("took", elapsed))
			return res, nil
		}
		if isTerminal(err) {
			// The proxy did its job; the content itself is the dead end.
			s.pools.RecordOutcome(proxy.TierFree, endpoint, true, elapsed)
			return nil, err
		}

		s.pools.RecordOutcome(proxy.TierFree, endpoint, false, 0)
		metrics.FreeFailures.Add(1)
		slog.Warn("youtube: free proxy failed",
			slog.String("proxy", endpoint), slog.Any("error", err))

		if i < len(candidates)-1 {
			if err := s.backoff(ctx, i); err != nil {
				return nil, err
			}
		}
	}
	return nil, &tierExhaustedError{proxy.TierFree}
}

// fetchViaManualPool asks the registry for candidates up to the configured
// retry budget.
func (s *Service) fetchViaManualPool(ctx context.Context, videoID string, languages []string) (*TranscriptResult, error) {
	for retries := 0; retries < s.maxManualRetries; retries++ {
		endpoint, ok := s.pools.NextManualCandidate()
		if !ok {
			break
		}

		if err := s.applyRequestDelay(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		res, err := s.attempt(ctx, endpoint, videoID, languages)
		elapsed := time.Since(start)

		if err == nil {
			s.pools.RecordOutcome(proxy.TierManual, endpoint, true, elapsed)
			metrics.ManualSuccesses.Add(1)
			slog.Info("youtube: manual proxy succeeded",
				slog.String("video_id", videoID), slog.String("proxy", endpoint))
			return res, nil
		}
		if isTerminal(err) {
			s.pools.RecordOutcome(proxy.TierManual, endpoint, true, elapsed)
			return nil, err
		}

		s.pools.RecordOutcome(proxy.TierManual, endpoint, false, 0)
		metrics.ManualFailures.Add(1)
		slog.Warn("youtube: manual proxy failed",
			slog.String("proxy", endpoint), slog.Any("error", err))

		if retries+1 < s.maxManualRetries {
			if err := s.backoff(ctx, retries+1); err != nil {
				return nil, err
			}
		}
	}
	return nil, &tierExhaustedError{proxy.TierManual}
}

// attempt performs one upstream call, bounded by the concurrency semaphore,
// the process-wide rate limiter and the per-attempt timeout. Attempts within
// one invocation are strictly sequential; the semaphore only bounds
// independent invocations running concurrently.
func (s *Service) attempt(ctx context.Context, proxyURL, videoID string, languages []string) (*TranscriptResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	actx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()
	return s.fetch(actx, proxyURL, videoID, languages)
}

// fetchUpstream is the production fetchFunc: it builds a client for the
// requested path (direct or proxied) and runs the Innertube protocol.
func (s *Service) fetchUpstream(ctx context.Context, proxyURL, videoID string, languages []string) (*TranscriptResult, error) {
	client := s.client
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		client = &http.Client{
			Timeout: s.attemptTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyURL(u),
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}
	return fetchTranscriptOnce(ctx, client, s.innertubeBase, videoID, languages)
}

// applyRequestDelay sleeps a random duration in [delayMin, delayMax] so the
// request cadence does not fingerprint us.
func (s *Service) applyRequestDelay(ctx context.Context) error {
	span := s.delayMax - s.delayMin
	d := s.delayMin + time.Duration(s.randFloat()*float64(span))
	if d <= 0 {
		return nil
	}
	return s.sleep(ctx, d)
}

// backoff waits min(2^attempt + jitter, 30s) before the next candidate.
func (s *Service) backoff(ctx context.Context, attempt int) error {
	d := time.Duration((math.Pow(backoffBase, float64(attempt)) + s.randFloat()) * float64(time.Second))
	if d > backoffMax {
		d = backoffMax
	}
	return s.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
