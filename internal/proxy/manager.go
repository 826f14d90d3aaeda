package proxy

import (
	"context"
	"time"
)

// Tier identifies which stage of the fallback protocol an outcome belongs to.
type Tier int

const (
	TierDirect Tier = iota
	TierFree
	TierManual
)

// String returns the tier name used in logs and metrics.
func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierFree:
		return "free"
	case TierManual:
		return "manual"
	}
	return "unknown"
}

// Manager unifies the free pool and the manual registry behind a single
// selection/record-outcome interface. Either pool may be absent; the fetcher
// never needs to know which ones are configured.
type Manager struct {
	free   *FreeSource
	manual *ManualRegistry
}

// NewManager wires the configured pools together. Pass nil for a pool that is
// disabled or has no endpoints.
func NewManager(free *FreeSource, manual *ManualRegistry) *Manager {
	if manual != nil && manual.Len() == 0 {
		manual = nil
	}
	return &Manager{free: free, manual: manual}
}

// HasFreeProxies reports whether the free pool is configured.
func (m *Manager) HasFreeProxies() bool { return m.free != nil }

// HasManualProxies reports whether any manual endpoints are configured.
func (m *Manager) HasManualProxies() bool { return m.manual != nil }

// FreeCandidates returns up to n free proxy URLs, best score first.
func (m *Manager) FreeCandidates(ctx context.Context, n int) ([]string, error) {
	if m.free == nil {
		return nil, nil
	}
	return m.free.GetProxies(ctx, n)
}

// NextManualCandidate returns the next manual endpoint to try, if any.
func (m *Manager) NextManualCandidate() (string, bool) {
	if m.manual == nil {
		return "", false
	}
	return m.manual.NextEndpoint()
}

// RecordOutcome feeds an attempt result back into the pool that supplied the
// proxy. Direct-tier outcomes carry no proxy and are ignored here; the fetcher
// tracks those in its metrics.
func (m *Manager) RecordOutcome(tier Tier, endpoint string, success bool, responseTime time.Duration) {
	switch tier {
	case TierFree:
		if m.free == nil {
			return
		}
		if success {
			m.free.RecordSuccess(endpoint, responseTime)
		} else {
			m.free.RecordFailure(endpoint)
		}
	case TierManual:
		if m.manual == nil {
			return
		}
		if success {
			m.manual.RecordSuccess(endpoint)
		} else {
			m.manual.RecordFailure(endpoint)
		}
	}
}

// Stats aggregates both pools for the observability endpoint.
type Stats struct {
	Free   *FreeStats            `json:"free_proxies,omitempty"`
	Manual []ManualEndpointStats `json:"manual_proxies,omitempty"`
}

// Stats returns a point-in-time snapshot of every configured pool.
func (m *Manager) Stats() Stats {
	var st Stats
	if m.free != nil {
		fs := m.free.Stats()
		st.Free = &fs
	}
	if m.manual != nil {
		st.Manual = m.manual.Stats()
	}
	return st
}
