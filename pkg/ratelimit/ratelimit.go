// Package ratelimit provides per-platform admission control for outbound
// API calls. Each platform gets a token bucket sized to the configured
// calls-per-period quota; optionally a second bucket is kept per
// integration so one noisy integration cannot starve the rest.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/marketforge/ads-sync-kit/pkg/config"
	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// Limiter admits or delays outbound calls. With a quota of c calls per
// period p the bucket refills at c/p and holds at most c tokens, so no
// more than c admissions start within any rolling window of length p.
type Limiter struct {
	enabled        bool
	reject         bool
	perIntegration bool
	limit          rate.Limit
	burst          int

	mu           sync.Mutex
	platforms    map[types.Platform]*rate.Limiter
	integrations map[string]*integrationEntry

	cleanupEvery time.Duration
	done         chan struct{}
	once         sync.Once
}

type integrationEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter from the rate limit configuration.
func New(cfg config.RateLimitConfig) *Limiter {
	calls := cfg.Calls
	if calls <= 0 {
		calls = config.DefaultRateLimitCalls
	}
	period := cfg.Period
	if period <= 0 {
		period = config.DefaultRateLimitPeriod
	}

	l := &Limiter{
		enabled:        cfg.Enabled,
		reject:         cfg.Reject,
		perIntegration: cfg.PerIntegration,
		limit:          rate.Limit(float64(calls) / period.Seconds()),
		burst:          calls,
		platforms:      make(map[types.Platform]*rate.Limiter),
		integrations:   make(map[string]*integrationEntry),
		cleanupEvery:   3 * period,
		done:           make(chan struct{}),
	}
	if l.enabled && l.perIntegration {
		go l.cleanupLoop()
	}
	return l
}

// Close stops the stale-entry cleanup goroutine.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

// Acquire admits one call for the platform (and integration, when
// per-integration limiting is on). In queue mode it blocks until
// capacity frees or ctx is done; in reject mode a saturated window fails
// immediately with RateLimitExceededError. A disabled limiter admits
// everything.
func (l *Limiter) Acquire(ctx context.Context, platform types.Platform, integrationID string) error {
	if !l.enabled {
		return nil
	}

	limiters := l.limitersFor(platform, integrationID)
	for _, lim := range limiters {
		if l.reject {
			if !lim.Allow() {
				return &types.RateLimitExceededError{Platform: platform}
			}
			continue
		}
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (l *Limiter) limitersFor(platform types.Platform, integrationID string) []*rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*rate.Limiter, 0, 2)

	pl, ok := l.platforms[platform]
	if !ok {
		pl = rate.NewLimiter(l.limit, l.burst)
		l.platforms[platform] = pl
	}
	out = append(out, pl)

	if l.perIntegration && integrationID != "" {
		key := string(platform) + "/" + integrationID
		e, ok := l.integrations[key]
		if !ok {
			e = &integrationEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
			l.integrations[key] = e
		}
		e.lastSeen = time.Now()
		out = append(out, e.limiter)
	}
	return out
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			for key, e := range l.integrations {
				if time.Since(e.lastSeen) > l.cleanupEvery {
					delete(l.integrations, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
