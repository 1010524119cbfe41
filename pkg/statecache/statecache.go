// Package statecache stores the short-lived OAuth flow state: single-use
// CSRF state tokens and pending account-selection sessions. Two
// implementations are provided, an in-process store and a Redis-backed
// store for multi-replica deployments.
package statecache

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// Store is the state cache contract.
//
// ConsumeState is the flow's CSRF gate and must be atomic: under any
// interleaving of concurrent callers exactly one consume of a given
// token succeeds. Consumed states are retained until expiry so a replay
// is distinguishable from an unknown token.
type Store interface {
	// PutState saves a freshly issued CSRF state until its expiry.
	PutState(ctx context.Context, state *types.OAuthState) error

	// ConsumeState atomically looks up and consumes a state token.
	// It fails with types.ErrInvalidState for unknown tokens,
	// types.ErrExpiredState for tokens past their expiry, and
	// types.ErrStateReplay for tokens already consumed.
	ConsumeState(ctx context.Context, token string) (*types.OAuthState, error)

	// PutSession saves a pending account-selection session until expiry.
	PutSession(ctx context.Context, session *types.PendingSession) error

	// GetSession returns a live session, or types.ErrSessionExpired when
	// the session is absent or past its expiry.
	GetSession(ctx context.Context, id string) (*types.PendingSession, error)

	// DeleteSession removes a session. Deleting an absent session is a
	// no-op.
	DeleteSession(ctx context.Context, id string) error
}

// NewStateToken returns a fresh CSRF state token with 256 bits of
// entropy, URL-safe encoded.
func NewStateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// replayRetention is how long a consumed or expired state stays visible
// after its expiry so late callbacks get the precise error kind rather
// than a generic invalid-state.
const replayRetention = 10 * time.Minute
