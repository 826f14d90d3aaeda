package proxy

import (
	"math/rand"
	"sync"
	"time"
)

// Manual proxies are operator-supplied and scarce, so they get a simpler
// circuit breaker than free proxies: no scoring, just blocked/available.
const (
	manualFailureThreshold = 3
	manualBlockWindow      = 5 * time.Minute
)

// manualHealth tracks one operator-configured proxy endpoint.
type manualHealth struct {
	url          string
	successes    int
	failures     int // consecutive, reset on success
	blocked      bool
	blockedUntil time.Time
	lastSuccess  time.Time
	lastFailure  time.Time
}

func (h *manualHealth) isAvailable(now time.Time) bool {
	if !h.blocked {
		return true
	}
	if !h.blockedUntil.IsZero() && now.After(h.blockedUntil) {
		h.blocked = false
		h.blockedUntil = time.Time{}
		h.failures = 0
		return true
	}
	return false
}

// ManualRegistry maintains the operator-configured proxy endpoints.
type ManualRegistry struct {
	mu      sync.Mutex
	proxies map[string]*manualHealth
	order   []string // configuration order, for deterministic listings

	now  func() time.Time
	rand func(n int) int
}

// NewManualRegistry creates a registry for the given endpoint URLs.
func NewManualRegistry(endpoints []string) *ManualRegistry {
	r := &ManualRegistry{
		proxies: make(map[string]*manualHealth, len(endpoints)),
		now:     time.Now,
		rand:    rand.Intn,
	}
	for _, u := range endpoints {
		if u == "" {
			continue
		}
		if _, exists := r.proxies[u]; exists {
			continue
		}
		r.proxies[u] = &manualHealth{url: u}
		r.order = append(r.order, u)
	}
	return r
}

// Len returns the number of configured endpoints.
func (r *ManualRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// AvailableEndpoints returns the currently selectable endpoints in
// configuration order.
func (r *ManualRegistry) AvailableEndpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]string, 0, len(r.order))
	for _, u := range r.order {
		if r.proxies[u].isAvailable(now) {
			out = append(out, u)
		}
	}
	return out
}

// NextEndpoint picks an available endpoint uniformly at random; round-robin
// would hand the target a predictable pattern. When every endpoint is blocked
// it force-unblocks the one whose block expires soonest instead of giving up,
// since a recently-blocked proxy beats no proxy at all.
func (r *ManualRegistry) NextEndpoint() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	available := make([]*manualHealth, 0, len(r.order))
	for _, u := range r.order {
		if h := r.proxies[u]; h.isAvailable(now) {
			available = append(available, h)
		}
	}

	if len(available) == 0 {
		var soonest *manualHealth
		for _, u := range r.order {
			h := r.proxies[u]
			if !h.blocked || h.blockedUntil.IsZero() {
				continue
			}
			if soonest == nil || h.blockedUntil.Before(soonest.blockedUntil) {
				soonest = h
			}
		}
		if soonest == nil {
			return "", false
		}
		soonest.blocked = false
		soonest.blockedUntil = time.Time{}
		soonest.failures = 0
		return soonest.url, true
	}

	return available[r.rand(len(available))].url, true
}

// RecordSuccess clears any block and the consecutive-failure counter.
func (r *ManualRegistry) RecordSuccess(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.proxies[endpoint]
	if !ok {
		return
	}
	h.successes++
	h.failures = 0
	h.blocked = false
	h.blockedUntil = time.Time{}
	h.lastSuccess = r.now()
}

// RecordFailure counts a consecutive failure; the third blocks the endpoint
// for a fixed five-minute window.
func (r *ManualRegistry) RecordFailure(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.proxies[endpoint]
	if !ok {
		return
	}
	h.failures++
	h.lastFailure = r.now()
	if h.failures >= manualFailureThreshold {
		h.blocked = true
		h.blockedUntil = r.now().Add(manualBlockWindow)
	}
}

// ManualEndpointStats describes one manual endpoint for the stats API.
type ManualEndpointStats struct {
	URL       string `json:"url"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
	Blocked   bool   `json:"blocked"`
	Available bool   `json:"available"`
}

// Stats returns per-endpoint health in configuration order.
func (r *ManualRegistry) Stats() []ManualEndpointStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]ManualEndpointStats, 0, len(r.order))
	for _, u := range r.order {
		h := r.proxies[u]
		out = append(out, ManualEndpointStats{
			URL:       u,
			Successes: h.successes,
			Failures:  h.failures,
			Blocked:   h.blocked,
			Available: h.isAvailable(now),
		})
	}
	return out
}
