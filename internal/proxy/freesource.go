package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
)

// DefaultListingURL is the public ProxyScrape listing endpoint.
const DefaultListingURL = "https://api.proxyscrape.com/v2/"

// FreeSourceConfig controls the free-proxy pool and its listing fetches.
type FreeSourceConfig struct {
	ListingURL      string
	RefreshInterval time.Duration // max age of the pool before a re-fetch
	MinPoolSize     int           // re-fetch when available count drops below this
	ListingTimeout  time.Duration // "timeout" query param sent to the listing service
	Anonymity       string        // "elite", "anonymous", "all"
	HTTPClient      *http.Client  // client used for listing fetches
}

// FreeSource maintains a refreshable, host-deduplicated pool of free proxy
// records fetched from a public listing service. The pool lives entirely in
// memory; its lifecycle is bound to the process.
type FreeSource struct {
	cfg    FreeSourceConfig
	client *http.Client

	mu          sync.Mutex // guards records, byHost, lastRefresh
	records     []*Record  // insertion order, for stable tie-breaking
	byHost      map[string]*Record
	lastRefresh time.Time

	now func() time.Time
}

// NewFreeSource creates a free-proxy pool. Zero config fields get defaults
// matching the listing service's expectations.
func NewFreeSource(cfg FreeSourceConfig) *FreeSource {
	if cfg.ListingURL == "" {
		cfg.ListingURL = DefaultListingURL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.MinPoolSize <= 0 {
		cfg.MinPoolSize = 5
	}
	if cfg.ListingTimeout <= 0 {
		cfg.ListingTimeout = 10 * time.Second
	}
	if cfg.Anonymity == "" {
		cfg.Anonymity = "elite"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &FreeSource{
		cfg:    cfg,
		client: client,
		byHost: make(map[string]*Record),
		now:    time.Now,
	}
}

// GetProxies returns up to count available proxy URLs in descending score
// order, refreshing the pool from the listing service first if it is stale or
// has run low. Concurrent callers serialize on the pool lock so only one
// triggers the external fetch.
func (s *FreeSource) GetProxies(ctx context.Context, count int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shouldRefreshLocked() {
		if err := s.refreshLocked(ctx); err != nil {
			slog.Warn("free proxy refresh failed", slog.Any("error", err))
			// A stale pool is still usable; fail only if it is empty.
			if len(s.records) == 0 {
				return nil, err
			}
		}
	}

	available := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		if r.IsAvailable() {
			available = append(available, r)
		}
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Score() > available[j].Score()
	})
	if len(available) > count {
		available = available[:count]
	}

	urls := make([]string, len(available))
	for i, r := range available {
		urls[i] = r.URL()
	}
	return urls, nil
}

func (s *FreeSource) shouldRefreshLocked() bool {
	if s.lastRefresh.IsZero() {
		return true
	}
	if s.now().Sub(s.lastRefresh) > s.cfg.RefreshInterval {
		return true
	}
	available := 0
	for _, r := range s.records {
		if r.IsAvailable() {
			available++
		}
	}
	return available < s.cfg.MinPoolSize
}

// refreshLocked fetches the listing, merges new hosts and prunes irrecoverable
// low performers. The merged pool is built as a fresh slice and swapped in.
func (s *FreeSource) refreshLocked(ctx context.Context) error {
	fetched, err := s.fetchListing(ctx)
	if err != nil {
		return err
	}

	added := 0
	for _, r := range fetched {
		if _, exists := s.byHost[r.Host]; exists {
			continue
		}
		r.now = s.now
		s.records = append(s.records, r)
		s.byHost[r.Host] = r
		added++
	}

	// Keep a record if it is available or still scores above the floor.
	// A blocked low scorer that unblocks before the next prune survives;
	// that hysteresis is intentional.
	kept := make([]*Record, 0, len(s.records))
	byHost := make(map[string]*Record, len(s.records))
	for _, r := range s.records {
		if r.IsAvailable() || r.Score() > 0.3 {
			kept = append(kept, r)
			byHost[r.Host] = r
		}
	}
	pruned := len(s.records) - len(kept)
	s.records = kept
	s.byHost = byHost
	s.lastRefresh = s.now()

	slog.Info("free proxy pool refreshed",
		slog.Int("fetched", len(fetched)),
		slog.Int("added", added),
		slog.Int("pruned", pruned),
		slog.Int("pool", len(s.records)))
	return nil
}

// fetchListing requests the proxy listing, asking for JSON first and falling
// back to plain text. The listing service is unreliable about which format it
// honors, so both parsers are load-bearing.
func (s *FreeSource) fetchListing(ctx context.Context) ([]*Record, error) {
	body, err := s.fetchListingBody(ctx, "json")
	if err == nil {
		if records, perr := parseJSONListing(body); perr == nil {
			return records, nil
		} else {
			slog.Warn("proxy listing not parseable as JSON, retrying as text", slog.Any("error", perr))
		}
	} else {
		slog.Warn("proxy listing JSON request failed, retrying as text", slog.Any("error", err))
	}

	body, err = s.fetchListingBody(ctx, "text")
	if err != nil {
		return nil, fmt.Errorf("proxy listing: %w", err)
	}
	records, perr := parseTextListing(body)
	if perr != nil {
		return nil, fmt.Errorf("proxy listing: %w", perr)
	}
	return records, nil
}

func (s *FreeSource) fetchListingBody(ctx context.Context, format string) ([]byte, error) {
	params := url.Values{
		"request":   {"displayproxies"},
		"protocol":  {"http"},
		"timeout":   {strconv.Itoa(int(s.cfg.ListingTimeout.Milliseconds()))},
		"country":   {"all"},
		"ssl":       {"yes"},
		"anonymity": {s.cfg.Anonymity},
		"format":    {format},
	}

	resp, err := stealth.RetryHTTP(ctx, stealth.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.ListingURL+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", stealth.RandomUserAgent())
		return s.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing service HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
}

// --- listing parsers ---
// Each strategy returns the parsed records or a parse failure; an empty
// listing is never silently treated as success.

type listingEntry struct {
	IP   string          `json:"ip"`
	Port json.RawMessage `json:"port"` // number or string, the service emits both
}

func (e listingEntry) portString() string {
	s := strings.Trim(string(e.Port), `"`)
	if _, err := strconv.Atoi(s); err != nil {
		return ""
	}
	return s
}

// parseJSONListing accepts {"proxies":[{ip,port}...]}, {"proxies":["ip:port"...]}
// and a bare JSON list of "ip:port" strings.
func parseJSONListing(data []byte) ([]*Record, error) {
	var wrapped struct {
		Proxies []json.RawMessage `json:"proxies"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Proxies != nil {
		return recordsFromRawList(wrapped.Proxies)
	}

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		return recordsFromRawList(list)
	}

	return nil, errors.New("not a recognized JSON listing shape")
}

func recordsFromRawList(items []json.RawMessage) ([]*Record, error) {
	records := make([]*Record, 0, len(items))
	for _, raw := range items {
		var entry listingEntry
		if err := json.Unmarshal(raw, &entry); err == nil && entry.IP != "" {
			if port := entry.portString(); port != "" {
				records = append(records, NewRecord(entry.IP, port, "http"))
			}
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if host, port, ok := splitHostPort(s); ok {
				records = append(records, NewRecord(host, port, "http"))
			}
		}
	}
	if len(records) == 0 {
		return nil, errors.New("JSON listing contained no usable entries")
	}
	return records, nil
}

// parseTextListing accepts newline-delimited "ip:port" lines.
func parseTextListing(data []byte) ([]*Record, error) {
	records := make([]*Record, 0, 64)
	for _, line := range strings.Split(string(data), "\n") {
		if host, port, ok := splitHostPort(strings.TrimSpace(line)); ok {
			records = append(records, NewRecord(host, port, "http"))
		}
	}
	if len(records) == 0 {
		return nil, errors.New("text listing contained no usable entries")
	}
	return records, nil
}

func splitHostPort(s string) (host, port string, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// findByURL resolves an endpoint URL back to its record. The pool is keyed by
// host, so the host portion is enough.
func (s *FreeSource) findByURL(endpoint string) *Record {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byHost[u.Hostname()]
}

// RecordSuccess credits a successful request to the proxy behind endpoint.
func (s *FreeSource) RecordSuccess(endpoint string, responseTime time.Duration) {
	if r := s.findByURL(endpoint); r != nil {
		r.RecordSuccess(responseTime)
	}
}

// RecordFailure charges a failed request to the proxy behind endpoint.
func (s *FreeSource) RecordFailure(endpoint string) {
	if r := s.findByURL(endpoint); r != nil {
		r.RecordFailure()
	}
}

// FreeStats summarizes the pool for the observability endpoint.
type FreeStats struct {
	Total       int           `json:"total_proxies"`
	Available   int           `json:"available_proxies"`
	Blocked     int           `json:"blocked_proxies"`
	LastRefresh *time.Time    `json:"last_refresh,omitempty"`
	TopProxies  []RecordStats `json:"top_proxies"`
}

// Stats returns a snapshot of the pool: counts plus the top five available
// records by score.
func (s *FreeSource) Stats() FreeStats {
	s.mu.Lock()
	records := make([]*Record, len(s.records))
	copy(records, s.records)
	lastRefresh := s.lastRefresh
	s.mu.Unlock()

	st := FreeStats{Total: len(records), TopProxies: []RecordStats{}}
	if !lastRefresh.IsZero() {
		st.LastRefresh = &lastRefresh
	}

	available := make([]*Record, 0, len(records))
	for _, r := range records {
		if r.IsAvailable() {
			available = append(available, r)
		}
	}
	st.Available = len(available)
	st.Blocked = st.Total - st.Available

	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Score() > available[j].Score()
	})
	if len(available) > 5 {
		available = available[:5]
	}
	for _, r := range available {
		st.TopProxies = append(st.TopProxies, r.Snapshot())
	}
	return st
}
