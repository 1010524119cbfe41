package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

const (
	stateKeyPrefix   = "ads:oauth:state:"
	sessionKeyPrefix = "ads:oauth:session:"
)

// consumeScript marks a state consumed if and only if it is present and
// not yet consumed. Running as a Lua script makes the check-then-mark a
// single atomic operation on the Redis side.
//
// Returns {0} when absent, {2, payload} when already consumed,
// {1, payload} on a successful consume.
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return {0}
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {2, v}
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', ttl)
else
  redis.call('SET', KEYS[2], '1')
end
return {1, v}
`)

// RedisStore is a Redis-backed Store for deployments where OAuth
// callbacks may land on a different replica than the one that issued the
// state. Entries carry their expiry both as a Redis TTL (with a
// retention grace so late callbacks are classified precisely) and inside
// the payload (the authoritative expiry check).
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore constructs a Redis-backed state store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// PutState saves a freshly issued CSRF state.
func (s *RedisStore) PutState(ctx context.Context, state *types.OAuthState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	ttl := state.ExpiresAt.Sub(s.now()) + replayRetention
	if ttl <= 0 {
		ttl = replayRetention
	}
	if err := s.client.Set(ctx, stateKeyPrefix+state.Token, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// ConsumeState atomically looks up and consumes a state token.
func (s *RedisStore) ConsumeState(ctx context.Context, token string) (*types.OAuthState, error) {
	keys := []string{stateKeyPrefix + token, stateKeyPrefix + token + ":consumed"}
	res, err := consumeScript.Run(ctx, s.client, keys).Slice()
	if err != nil {
		return nil, fmt.Errorf("consume state: %w", err)
	}
	if len(res) == 0 {
		return nil, types.ErrInvalidState
	}
	outcome, _ := res[0].(int64)
	if outcome == 0 {
		return nil, types.ErrInvalidState
	}

	raw, _ := res[1].(string)
	var state types.OAuthState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	// Expiry wins over replay: a state can be both, and a late caller
	// should be told to restart the flow rather than suspect a replay.
	if state.Expired(s.now()) {
		return nil, types.ErrExpiredState
	}
	if outcome == 2 {
		return nil, types.ErrStateReplay
	}
	state.Consumed = true
	return &state, nil
}

// sessionEnvelope re-exposes the session's token for persistence. The
// domain type hides it from JSON so it cannot leak through API
// responses; inside Redis the value is required to finish the flow on
// another replica.
type sessionEnvelope struct {
	types.PendingSession
	UserAccessToken string `json:"user_access_token"`
}

// PutSession saves a pending account-selection session.
func (s *RedisStore) PutSession(ctx context.Context, session *types.PendingSession) error {
	payload, err := json.Marshal(sessionEnvelope{
		PendingSession:  *session,
		UserAccessToken: session.UserAccessToken,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return types.ErrSessionExpired
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// GetSession returns a live session.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*types.PendingSession, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, types.ErrSessionExpired
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var env sessionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	session := env.PendingSession
	session.UserAccessToken = env.UserAccessToken
	if session.Expired(s.now()) {
		return nil, types.ErrSessionExpired
	}
	return &session, nil
}

// DeleteSession removes a session.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
