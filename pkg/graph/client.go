// Package graph is the retrying, rate-limited client for Meta's Graph
// API. It covers the OAuth token exchanges, account discovery, campaign
// reads and the launch chain, classifying every failure so the retry
// layer and the lifecycle manager can act on stable error kinds.
package graph

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marketforge/ads-sync-kit/pkg/config"
	"github.com/marketforge/ads-sync-kit/pkg/metrics"
	"github.com/marketforge/ads-sync-kit/pkg/ratelimit"
	"github.com/marketforge/ads-sync-kit/pkg/retry"
	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// Client talks to the Graph API. All calls go through the rate limiter
// first; GETs and caller-marked idempotent calls additionally run under
// the retry executor. The client holds no locks across network calls.
type Client struct {
	cfg       *config.Config
	http      *http.Client
	limiter   *ratelimit.Limiter
	exec      *retry.Executor
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewClient creates a Graph client from the configuration.
func NewClient(cfg *config.Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.Policy{
		MaxRetries:    cfg.Retry.MaxRetries,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxDelay:      cfg.Retry.MaxDelay,
		Jitter:        0.1,
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: limiter,
		exec:    retry.NewExecutor(policy, logger),
		logger:  logger,
	}
}

// Executor exposes the retry executor so callers composing their own
// idempotent operations reuse the client's schedule.
func (c *Client) Executor() *retry.Executor { return c.exec }

// WithMetrics attaches a collector. Every completed request is recorded
// with its latency and classification. A nil collector is a no-op.
func (c *Client) WithMetrics(m *metrics.Collector) *Client {
	c.collector = m
	return c
}

func (c *Client) base() string {
	return strings.TrimSuffix(c.cfg.Meta.GraphBaseURL, "/") + "/" + c.cfg.Meta.APIVersion
}

// get runs an idempotent GET with rate limiting and retries.
func (c *Client) get(ctx context.Context, platform types.Platform, integrationID, path string, params url.Values, out any) error {
	attempt := 0
	return c.exec.Do(ctx, func(ctx context.Context) error {
		if attempt > 0 {
			c.collector.RecordRetry(platform)
		}
		attempt++
		return c.doOnce(ctx, platform, integrationID, http.MethodGet, path, params, nil, out)
	})
}

// post runs a POST with rate limiting and a single attempt. Launch-style
// calls are side-effecting and must not be retried blindly; callers that
// can prove idempotency use postIdempotent.
func (c *Client) post(ctx context.Context, platform types.Platform, integrationID, path string, params url.Values, body any, out any) error {
	return c.doOnce(ctx, platform, integrationID, http.MethodPost, path, params, body, out)
}

// postIdempotent runs a POST under the retry executor. Only for calls
// the caller has marked safe to repeat.
func (c *Client) postIdempotent(ctx context.Context, platform types.Platform, integrationID, path string, params url.Values, body any, out any) error {
	attempt := 0
	return c.exec.Do(ctx, func(ctx context.Context) error {
		if attempt > 0 {
			c.collector.RecordRetry(platform)
		}
		attempt++
		return c.doOnce(ctx, platform, integrationID, http.MethodPost, path, params, body, out)
	})
}

// doOnce performs one admission-controlled request with the per-call
// timeout and classifies any failure.
func (c *Client) doOnce(ctx context.Context, platform types.Platform, integrationID, method, path string, params url.Values, body any, out any) (err error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, platform, integrationID); err != nil {
			return err
		}
	}

	u := c.base() + "/" + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &types.APIError{Kind: types.APIErrorPermanent, Message: "encode request body", Err: err}
		}
		reader = strings.NewReader(string(payload))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &types.APIError{Kind: types.APIErrorPermanent, Message: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if c.cfg.Logging.LogRequests {
		c.logger.Debug("graph request",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("platform", string(platform)))
	}

	start := time.Now()
	defer func() { c.collector.RecordRequest(platform, time.Since(start), err) }()

	resp, err := c.http.Do(req)
	if err != nil {
		return &types.APIError{Kind: types.APIErrorTransient, Message: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &types.APIError{Kind: types.APIErrorTransient, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if c.cfg.Logging.LogRequests {
		c.logger.Debug("graph response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)))
	}

	if resp.StatusCode >= 400 {
		return classifyStatus(resp, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &types.APIError{Kind: types.APIErrorPermanent, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
		}
	}
	return nil
}

// graphErrorBody is the standard Graph error payload.
type graphErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Subcode int    `json:"error_subcode"`
	} `json:"error"`
}

// Graph error codes that indicate the token is no longer valid.
const (
	graphCodeAuthExpired   = 190
	graphCodeRateLimited   = 4
	graphCodeUserRateLimit = 17
)

// classifyStatus maps an error response onto the APIError taxonomy:
// 429 (or Graph throttling codes) are rate-limited, 5xx transient,
// 401/code-190 auth-expired, everything else permanent.
func classifyStatus(resp *http.Response, raw []byte) *types.APIError {
	var gerr graphErrorBody
	_ = json.Unmarshal(raw, &gerr)

	apiErr := &types.APIError{
		StatusCode: resp.StatusCode,
		Code:       gerr.Error.Code,
		Subcode:    gerr.Error.Subcode,
		Message:    gerr.Error.Message,
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		gerr.Error.Code == graphCodeRateLimited,
		gerr.Error.Code == graphCodeUserRateLimit:
		apiErr.Kind = types.APIErrorRateLimited
		apiErr.RetryAfter = retry.ParseRetryAfter(resp.Header)
	case resp.StatusCode >= 500:
		apiErr.Kind = types.APIErrorTransient
	case resp.StatusCode == http.StatusUnauthorized,
		gerr.Error.Code == graphCodeAuthExpired:
		apiErr.Kind = types.APIErrorAuthExpired
	default:
		apiErr.Kind = types.APIErrorPermanent
	}
	return apiErr
}

// fields joins a Graph fields parameter.
func fields(names ...string) string { return strings.Join(names, ",") }
