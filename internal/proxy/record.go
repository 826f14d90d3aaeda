package proxy

import (
	"fmt"
	"sync"
	"time"
)

// Block windows applied by Record.RecordFailure. A proxy that never worked
// gets the long window; a previously useful one gets the short window.
const (
	deadOnArrivalBlock = 30 * time.Minute
	degradedBlock      = 15 * time.Minute
)

// responseTimeWindow caps the number of retained latency samples.
const responseTimeWindow = 20

// Record tracks rolling health and performance statistics for one free proxy.
// All methods are safe for concurrent use; each record carries its own lock so
// updates on different records never contend.
type Record struct {
	Host   string
	Port   string
	Scheme string

	mu            sync.Mutex
	successes     int
	failures      int
	responseTimes []time.Duration // newest last
	blocked       bool
	blockedUntil  time.Time
	lastUsed      time.Time

	now func() time.Time
}

// NewRecord creates a record for scheme://host:port with zeroed statistics.
func NewRecord(host, port, scheme string) *Record {
	return &Record{Host: host, Port: port, Scheme: scheme, now: time.Now}
}

// URL returns the proxy endpoint URL, e.g. "http://1.2.3.4:8080".
func (r *Record) URL() string {
	return fmt.Sprintf("%s://%s:%s", r.Scheme, r.Host, r.Port)
}

// RecordSuccess registers a successful request and its response time.
// Any block is cleared unconditionally.
func (r *Record) RecordSuccess(responseTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.successes++
	r.lastUsed = r.now()
	r.responseTimes = append(r.responseTimes, responseTime)
	if len(r.responseTimes) > responseTimeWindow {
		r.responseTimes = r.responseTimes[len(r.responseTimes)-responseTimeWindow:]
	}
	r.blocked = false
	r.blockedUntil = time.Time{}
}

// RecordFailure registers a failed request. Three failures with no success
// ever marks the proxy dead on arrival (30 min block); five failures on a
// proxy that has worked before marks it degraded (15 min block). The first
// matching threshold wins.
func (r *Record) RecordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures++
	r.lastUsed = r.now()

	switch {
	case r.failures >= 3 && r.successes == 0:
		r.blocked = true
		r.blockedUntil = r.now().Add(deadOnArrivalBlock)
	case r.failures >= 5:
		r.blocked = true
		r.blockedUntil = r.now().Add(degradedBlock)
	}
}

// IsAvailable reports whether the proxy may be selected. An expired block is
// cleared here, on read, and the failure counter is reduced by 2 (floored at
// zero) so the proxy regains trust gradually rather than all at once.
func (r *Record) IsAvailable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.blocked {
		return true
	}
	if !r.blockedUntil.IsZero() && r.now().After(r.blockedUntil) {
		r.blocked = false
		r.blockedUntil = time.Time{}
		r.failures -= 2
		if r.failures < 0 {
			r.failures = 0
		}
		return true
	}
	return false
}

// Score returns the derived quality score in [0,1]: 0.5 for a proxy with no
// recorded attempts, otherwise 0.7*successRate + 0.3*responseScore where
// responseScore degrades linearly up to a 10s average over the last 10 samples.
func (r *Record) Score() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scoreLocked()
}

func (r *Record) scoreLocked() float64 {
	total := r.successes + r.failures
	if total == 0 {
		return 0.5
	}

	successRate := float64(r.successes) / float64(total)

	avgResponse := 5.0 // neutral assumption until we have samples
	if n := len(r.responseTimes); n > 0 {
		recent := r.responseTimes
		if n > 10 {
			recent = recent[n-10:]
		}
		var sum time.Duration
		for _, rt := range recent {
			sum += rt
		}
		avgResponse = (sum / time.Duration(len(recent))).Seconds()
	}
	responseScore := 1 - avgResponse/10
	if responseScore < 0 {
		responseScore = 0
	}

	return successRate*0.7 + responseScore*0.3
}

// RecordStats is a read-only snapshot of one record, shaped for the stats API.
type RecordStats struct {
	URL       string  `json:"url"`
	Score     float64 `json:"score"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
	Blocked   bool    `json:"blocked"`
}

// Snapshot returns the record's current statistics.
func (r *Record) Snapshot() RecordStats {
	url := r.URL()
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecordStats{
		URL:       url,
		Score:     r.scoreLocked(),
		Successes: r.successes,
		Failures:  r.failures,
		Blocked:   r.blocked,
	}
}
