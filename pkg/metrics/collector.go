// Package metrics collects in-process counters for outbound Graph API
// traffic and lifecycle operations. The collector is cheap enough to
// leave on permanently; snapshots are copies and safe to serialize.
package metrics

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// Collector aggregates counters globally and per platform.
type Collector struct {
	mu sync.RWMutex

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64

	platforms map[types.Platform]*platformMetrics

	firstRequest time.Time
	lastUpdated  time.Time
}

type platformMetrics struct {
	requests      atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	retries       atomic.Int64
	rateLimitHits atomic.Int64
	authFailures  atomic.Int64
	launches      atomic.Int64
	syncs         atomic.Int64

	mu           sync.Mutex
	totalLatency time.Duration
	maxLatency   time.Duration
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{platforms: make(map[types.Platform]*platformMetrics)}
}

func (c *Collector) platform(p types.Platform) *platformMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	pm, ok := c.platforms[p]
	if !ok {
		pm = &platformMetrics{}
		c.platforms[p] = pm
	}
	c.lastUpdated = time.Now()
	if c.firstRequest.IsZero() {
		c.firstRequest = time.Now()
	}
	return pm
}

// RecordRequest records one completed API call and its classification.
func (c *Collector) RecordRequest(p types.Platform, latency time.Duration, err error) {
	if c == nil {
		return
	}
	pm := c.platform(p)

	c.totalRequests.Add(1)
	pm.requests.Add(1)

	pm.mu.Lock()
	pm.totalLatency += latency
	if latency > pm.maxLatency {
		pm.maxLatency = latency
	}
	pm.mu.Unlock()

	if err == nil {
		c.successfulRequests.Add(1)
		pm.successes.Add(1)
		return
	}

	c.failedRequests.Add(1)
	pm.failures.Add(1)

	switch {
	case isKind(err, types.APIErrorRateLimited):
		pm.rateLimitHits.Add(1)
	case isKind(err, types.APIErrorAuthExpired):
		pm.authFailures.Add(1)
	}
}

// RecordRetry records one retry of a transient failure.
func (c *Collector) RecordRetry(p types.Platform) {
	if c == nil {
		return
	}
	c.platform(p).retries.Add(1)
}

// RecordLaunch records one admitted campaign launch.
func (c *Collector) RecordLaunch(p types.Platform) {
	if c == nil {
		return
	}
	c.platform(p).launches.Add(1)
}

// RecordSync records one completed campaign sync.
func (c *Collector) RecordSync(p types.Platform) {
	if c == nil {
		return
	}
	c.platform(p).syncs.Add(1)
}

// PlatformSnapshot is a point-in-time copy of one platform's counters.
type PlatformSnapshot struct {
	Platform       types.Platform `json:"platform"`
	Requests       int64          `json:"requests"`
	Successes      int64          `json:"successes"`
	Failures       int64          `json:"failures"`
	Retries        int64          `json:"retries"`
	RateLimitHits  int64          `json:"rate_limit_hits"`
	AuthFailures   int64          `json:"auth_failures"`
	Launches       int64          `json:"launches"`
	Syncs          int64          `json:"syncs"`
	AverageLatency time.Duration  `json:"average_latency"`
	MaxLatency     time.Duration  `json:"max_latency"`
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	TotalRequests      int64              `json:"total_requests"`
	SuccessfulRequests int64              `json:"successful_requests"`
	FailedRequests     int64              `json:"failed_requests"`
	SuccessRate        float64            `json:"success_rate"`
	Platforms          []PlatformSnapshot `json:"platforms"`
	FirstRequest       time.Time          `json:"first_request,omitempty"`
	LastUpdated        time.Time          `json:"last_updated,omitempty"`
}

// GetSnapshot returns a copy of the current counters.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		TotalRequests:      c.totalRequests.Load(),
		SuccessfulRequests: c.successfulRequests.Load(),
		FailedRequests:     c.failedRequests.Load(),
		FirstRequest:       c.firstRequest,
		LastUpdated:        c.lastUpdated,
	}
	if snap.TotalRequests > 0 {
		snap.SuccessRate = float64(snap.SuccessfulRequests) / float64(snap.TotalRequests)
	}

	for p, pm := range c.platforms {
		ps := PlatformSnapshot{
			Platform:      p,
			Requests:      pm.requests.Load(),
			Successes:     pm.successes.Load(),
			Failures:      pm.failures.Load(),
			Retries:       pm.retries.Load(),
			RateLimitHits: pm.rateLimitHits.Load(),
			AuthFailures:  pm.authFailures.Load(),
			Launches:      pm.launches.Load(),
			Syncs:         pm.syncs.Load(),
		}
		pm.mu.Lock()
		if ps.Requests > 0 {
			ps.AverageLatency = pm.totalLatency / time.Duration(ps.Requests)
		}
		ps.MaxLatency = pm.maxLatency
		pm.mu.Unlock()
		snap.Platforms = append(snap.Platforms, ps)
	}
	sort.Slice(snap.Platforms, func(i, j int) bool {
		return snap.Platforms[i].Platform < snap.Platforms[j].Platform
	})
	return snap
}

// Reset zeroes every counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests.Store(0)
	c.successfulRequests.Store(0)
	c.failedRequests.Store(0)
	c.platforms = make(map[types.Platform]*platformMetrics)
	c.firstRequest = time.Time{}
	c.lastUpdated = time.Time{}
}

func isKind(err error, kind types.APIErrorKind) bool {
	var apiErr *types.APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
