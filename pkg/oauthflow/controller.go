// Package oauthflow drives the OAuth connection flow: issuing CSRF
// state, handling the provider callback, and binding an ad account to
// an integration.
package oauthflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketforge/ads-sync-kit/pkg/config"
	"github.com/marketforge/ads-sync-kit/pkg/graph"
	"github.com/marketforge/ads-sync-kit/pkg/statecache"
	"github.com/marketforge/ads-sync-kit/pkg/store"
	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// callbackPath is appended to the configured redirect base URL to form
// the OAuth redirect URI. It must match the URI registered with the
// Meta app.
const callbackPath = "/ads/oauth/callback"

// Controller runs the OAuth connection flow.
type Controller struct {
	cfg          *config.Config
	graph        *graph.Client
	cache        statecache.Store
	integrations store.IntegrationStore
	logger       *zap.Logger
	now          func() time.Time
}

// NewController creates an OAuth flow controller.
func NewController(cfg *config.Config, gc *graph.Client, cache statecache.Store, integrations store.IntegrationStore, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:          cfg,
		graph:        gc,
		cache:        cache,
		integrations: integrations,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the controller's clock. Test hook.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// InitiateOptions carries the metadata the requester attaches to the
// integration being connected.
type InitiateOptions struct {
	AccountName        string
	AccountDescription string
	Organization       string
}

// Initiation is the result of starting an OAuth flow.
type Initiation struct {
	// AuthorizationURL is where the user's browser is sent.
	AuthorizationURL string

	// State is the issued single-use CSRF token, echoed back by the
	// provider on callback.
	State string
}

func (c *Controller) redirectURI() string {
	return strings.TrimRight(c.cfg.Meta.RedirectBaseURL, "/") + callbackPath
}

// InitiateOAuth validates the platform configuration, issues a CSRF
// state bound to the requesting user, and returns the provider
// authorization URL.
func (c *Controller) InitiateOAuth(ctx context.Context, platform types.Platform, user string, opts InitiateOptions) (*Initiation, error) {
	if !platform.Valid() {
		return nil, &types.ConfigurationError{Field: "platform", Reason: fmt.Sprintf("unsupported platform %q", platform)}
	}
	if err := c.cfg.ValidateMeta(); err != nil {
		return nil, err
	}

	token, err := statecache.NewStateToken()
	if err != nil {
		return nil, err
	}

	now := c.now()
	state := &types.OAuthState{
		Token:              token,
		Platform:           platform,
		User:               user,
		AccountName:        opts.AccountName,
		AccountDescription: opts.AccountDescription,
		Organization:       opts.Organization,
		CreatedAt:          now,
		ExpiresAt:          now.Add(c.cfg.OAuth.StateTTL),
	}
	if err := c.cache.PutState(ctx, state); err != nil {
		return nil, fmt.Errorf("save oauth state: %w", err)
	}

	authURL, err := c.graph.AuthCodeURL(platform, c.redirectURI(), token)
	if err != nil {
		return nil, err
	}

	c.logger.Info("oauth flow initiated",
		zap.String("platform", platform.String()),
		zap.String("user", user))

	return &Initiation{AuthorizationURL: authURL, State: token}, nil
}

// CallbackResult is the outcome of a provider callback. Exactly one of
// Integration (the flow completed by auto-connecting the only available
// account) or SessionID (the user must pick an account) is set.
type CallbackResult struct {
	Integration *types.Integration
	SessionID   string
	Accounts    []types.AdAccount
}

// HandleCallback consumes the CSRF state, exchanges the authorization
// code for a long-lived token, and loads the ad accounts the
// authorizing user may connect. With exactly one account available the
// integration is connected immediately; otherwise a pending session is
// cached for account selection.
func (c *Controller) HandleCallback(ctx context.Context, stateToken, code string) (*CallbackResult, error) {
	state, err := c.cache.ConsumeState(ctx, stateToken)
	if err != nil {
		return nil, err
	}

	shortToken, err := c.graph.ExchangeCode(ctx, state.Platform, c.redirectURI(), code)
	if err != nil {
		return nil, err
	}
	longToken, lifetime, err := c.graph.ExchangeLongLived(ctx, state.Platform, shortToken)
	if err != nil {
		return nil, err
	}

	profile, err := c.graph.Me(ctx, state.Platform, longToken)
	if err != nil {
		return nil, err
	}
	accounts, err := c.graph.AdAccounts(ctx, state.Platform, longToken)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, &types.ProviderAuthError{Platform: state.Platform, Reason: "authorized user has no ad accounts"}
	}

	now := c.now()
	session := &types.PendingSession{
		ID:                 uuid.NewString(),
		Platform:           state.Platform,
		User:               state.User,
		UserAccessToken:    longToken,
		TokenExpiry:        now.Add(lifetime),
		Accounts:           accounts,
		AuthorizedUserID:   profile.ID,
		AuthorizedUserName: profile.Name,
		AccountName:        state.AccountName,
		AccountDescription: state.AccountDescription,
		Organization:       state.Organization,
		CreatedAt:          now,
		ExpiresAt:          now.Add(c.cfg.OAuth.SessionTTL),
	}

	if len(accounts) == 1 {
		in, err := c.connect(ctx, session, accounts[0])
		if err != nil {
			return nil, err
		}
		c.logger.Info("single ad account auto-connected",
			zap.String("platform", state.Platform.String()),
			zap.String("integration_id", in.ID),
			zap.String("ad_account_id", in.AdAccountID))
		return &CallbackResult{Integration: in, Accounts: accounts}, nil
	}

	if err := c.cache.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save pending session: %w", err)
	}

	c.logger.Info("oauth callback handled, awaiting account selection",
		zap.String("platform", state.Platform.String()),
		zap.String("session_id", session.ID),
		zap.Int("accounts", len(accounts)))

	return &CallbackResult{SessionID: session.ID, Accounts: accounts}, nil
}

// GetAvailableAdAccounts returns the ad accounts a pending session may
// connect.
func (c *Controller) GetAvailableAdAccounts(ctx context.Context, sessionID string) ([]types.AdAccount, error) {
	session, err := c.cache.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Accounts, nil
}

// ConnectAdAccount binds the selected ad account to an integration and
// deletes the pending session. Selecting an account outside the
// session's list fails without consuming the session.
func (c *Controller) ConnectAdAccount(ctx context.Context, sessionID, accountID string) (*types.Integration, error) {
	session, err := c.cache.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	account, ok := session.Account(accountID)
	if !ok {
		return nil, &types.ProviderAuthError{Platform: session.Platform, Reason: fmt.Sprintf("ad account %s not offered by this session", accountID)}
	}

	in, err := c.connect(ctx, session, account)
	if err != nil {
		return nil, err
	}

	c.logger.Info("ad account connected",
		zap.String("platform", session.Platform.String()),
		zap.String("integration_id", in.ID),
		zap.String("ad_account_id", in.AdAccountID))

	return in, nil
}

// connect creates or re-authorizes the integration for the given
// account and removes the pending session.
func (c *Controller) connect(ctx context.Context, session *types.PendingSession, account types.AdAccount) (*types.Integration, error) {
	now := c.now()

	name := session.AccountName
	if name == "" {
		name = account.Name
	}

	in, err := c.integrations.FindByAccount(ctx, session.Platform, account.ID)
	switch {
	case err == nil:
		// Existing integration, re-authorizing replaces its credentials.
		in.AccountName = name
		in.AccountDescription = session.AccountDescription
		in.Organization = session.Organization
	case errors.Is(err, types.ErrIntegrationNotFound):
		in = &types.Integration{
			ID:                 uuid.NewString(),
			Platform:           session.Platform,
			AccountName:        name,
			AccountDescription: session.AccountDescription,
			Organization:       session.Organization,
			AdAccountID:        account.ID,
			CreatedAt:          now,
		}
	default:
		return nil, err
	}

	in.ConnectionStatus = types.StatusConnected
	in.AccessToken = session.UserAccessToken
	in.TokenExpiry = session.TokenExpiry
	in.AuthorizedUserID = session.AuthorizedUserID
	in.AuthorizedUserName = session.AuthorizedUserName
	in.Currency = account.Currency
	in.Timezone = account.Timezone
	in.LastError = ""
	in.LastErrorAt = time.Time{}
	in.AuthorizedAt = now
	in.DisconnectedAt = time.Time{}
	in.UpdatedAt = now

	if err := c.integrations.Save(ctx, in); err != nil {
		return nil, fmt.Errorf("save integration: %w", err)
	}
	if err := c.cache.DeleteSession(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	return in, nil
}
