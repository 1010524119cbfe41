package graph

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"github.com/marketforge/ads-sync-kit/pkg/config"
	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// Scopes requested during authorization. Instagram connections need the
// extra instagram_* scopes on top of the base ads set.
var (
	baseScopes = []string{
		"pages_show_list",
		"pages_read_engagement",
		"pages_manage_posts",
		"pages_read_user_content",
		"business_management",
		"email",
		"public_profile",
		"ads_management",
		"ads_read",
	}
	instagramScopes = []string{
		"instagram_basic",
		"instagram_content_publish",
		"instagram_manage_insights",
	}
)

// defaultTokenLifetime is Meta's long-lived user token lifetime (60
// days), used when the exchange response omits expires_in.
const defaultTokenLifetime = 5184000 * time.Second

// oauthConfig builds the x/oauth2 configuration for a platform.
func (c *Client) oauthConfig(platform types.Platform, redirectURI string) (*oauth2.Config, error) {
	if err := c.cfg.ValidateMeta(); err != nil {
		return nil, err
	}
	scopes := append([]string(nil), baseScopes...)
	if platform == types.PlatformInstagram {
		scopes = append(scopes, instagramScopes...)
	}
	return &oauth2.Config{
		ClientID:     c.cfg.Meta.AppID,
		ClientSecret: c.cfg.Meta.AppSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint:     c.oauthEndpoint(),
	}, nil
}

// oauthEndpoint returns Meta's endpoints, or endpoints rooted at the
// overridden Graph base URL so tests can stand in for the provider.
func (c *Client) oauthEndpoint() oauth2.Endpoint {
	if c.cfg.Meta.GraphBaseURL == config.DefaultGraphBaseURL {
		return facebook.Endpoint
	}
	base := strings.TrimRight(c.cfg.Meta.GraphBaseURL, "/")
	return oauth2.Endpoint{
		AuthURL:  base + "/dialog/oauth",
		TokenURL: base + "/" + c.cfg.Meta.APIVersion + "/oauth/access_token",
	}
}

// AuthCodeURL returns the authorization URL for the platform with the
// given CSRF state embedded. Fails with ConfigurationError when the app
// credentials are not configured.
func (c *Client) AuthCodeURL(platform types.Platform, redirectURI, state string) (string, error) {
	conf, err := c.oauthConfig(platform, redirectURI)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state), nil
}

// ExchangeCode trades an authorization code for a short-lived user
// token. Provider rejections surface as ProviderAuthError.
func (c *Client) ExchangeCode(ctx context.Context, platform types.Platform, redirectURI, code string) (string, error) {
	conf, err := c.oauthConfig(platform, redirectURI)
	if err != nil {
		return "", err
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, platform, ""); err != nil {
			return "", err
		}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
			return "", &types.ProviderAuthError{Platform: platform, Reason: "authorization code rejected"}
		}
		return "", &types.APIError{Kind: types.APIErrorTransient, Message: "token exchange failed", Err: err}
	}
	if tok.AccessToken == "" {
		return "", &types.ProviderAuthError{Platform: platform, Reason: "no access token in exchange response"}
	}
	return tok.AccessToken, nil
}

// longLivedResponse is the fb_exchange_token payload.
type longLivedResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeLongLived upgrades a short-lived token to a long-lived one
// (up to 60 days). The exchange is idempotent, so it is retried on
// transient failures. When the provider omits expires_in the default
// 60-day lifetime applies.
func (c *Client) ExchangeLongLived(ctx context.Context, platform types.Platform, shortToken string) (string, time.Duration, error) {
	if err := c.cfg.ValidateMeta(); err != nil {
		return "", 0, err
	}

	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", c.cfg.Meta.AppID)
	params.Set("client_secret", c.cfg.Meta.AppSecret)
	params.Set("fb_exchange_token", shortToken)

	var out longLivedResponse
	if err := c.get(ctx, platform, "", "oauth/access_token", params, &out); err != nil {
		return "", 0, err
	}
	if out.AccessToken == "" {
		return "", 0, &types.ProviderAuthError{Platform: platform, Reason: "no access token in exchange response"}
	}
	lifetime := defaultTokenLifetime
	if out.ExpiresIn > 0 {
		lifetime = time.Duration(out.ExpiresIn) * time.Second
	}
	return out.AccessToken, lifetime, nil
}

// RefreshLongLived re-exchanges a still-valid long-lived token for a
// fresh one. Same endpoint as ExchangeLongLived; Meta has no separate
// refresh grant for user tokens.
func (c *Client) RefreshLongLived(ctx context.Context, platform types.Platform, token string) (string, time.Duration, error) {
	return c.ExchangeLongLived(ctx, platform, token)
}
