// Package types defines the core domain model for the ads sync kit:
// platforms, integrations, OAuth flow state, pending account-selection
// sessions, campaigns, and the result types returned by lifecycle
// operations.
package types

import (
	"time"
)

// Platform identifies a supported advertising platform.
type Platform string

const (
	// PlatformFacebook is Meta's Facebook Ads platform.
	PlatformFacebook Platform = "Facebook"

	// PlatformInstagram is Meta's Instagram Ads platform.
	PlatformInstagram Platform = "Instagram"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformFacebook || p == PlatformInstagram
}

// String returns the platform name.
func (p Platform) String() string {
	return string(p)
}

// Platforms lists every supported platform.
func Platforms() []Platform {
	return []Platform{PlatformFacebook, PlatformInstagram}
}

// ConnectionStatus describes the state of an integration's connection
// to its remote platform.
type ConnectionStatus string

const (
	// StatusNotConnected means the integration has no usable credentials.
	StatusNotConnected ConnectionStatus = "Not Connected"

	// StatusConnected means the integration holds a valid access token.
	StatusConnected ConnectionStatus = "Connected"

	// StatusExpired means the token expired and silent refresh failed;
	// a full re-authorization is required.
	StatusExpired ConnectionStatus = "Expired"

	// StatusError means the last remote operation failed permanently.
	StatusError ConnectionStatus = "Error"
)

// Integration represents a connected advertising account.
//
// Invariant: AccessToken is non-empty if and only if ConnectionStatus is
// StatusConnected. Every transition away from StatusConnected clears
// AccessToken, RefreshToken, and TokenExpiry together; stores expose a
// single ClearSecrets primitive so a partial clear cannot be observed.
// Integrations are never hard-deleted; removal is modeled as a status
// transition.
type Integration struct {
	ID                 string           `json:"id"`
	Platform           Platform         `json:"platform"`
	AccountName        string           `json:"account_name"`
	AccountDescription string           `json:"account_description,omitempty"`
	Organization       string           `json:"organization,omitempty"`

	// AdAccountID is the remote ad account identifier (Meta's "act_..." id).
	AdAccountID string `json:"ad_account_id"`

	ConnectionStatus ConnectionStatus `json:"connection_status"`

	// AccessToken and RefreshToken are secrets. They are encrypted at
	// rest by the store and must never appear in logs or LastError.
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"token_expiry,omitempty"`

	AuthorizedUserID   string `json:"authorized_user_id,omitempty"`
	AuthorizedUserName string `json:"authorized_user_name,omitempty"`

	Currency string `json:"currency,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`

	AuthorizedAt   time.Time `json:"authorized_at,omitempty"`
	DisconnectedAt time.Time `json:"disconnected_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connected reports whether the integration currently holds credentials.
func (i *Integration) Connected() bool {
	return i.ConnectionStatus == StatusConnected && i.AccessToken != ""
}

// TokenExpiringWithin reports whether the token expiry is known and falls
// within d of now. A zero expiry never reports as expiring.
func (i *Integration) TokenExpiringWithin(now time.Time, d time.Duration) bool {
	if i.TokenExpiry.IsZero() {
		return false
	}
	return i.TokenExpiry.Before(now.Add(d))
}

// OAuthState is the single-use CSRF state issued when an OAuth flow is
// initiated. A state token is accepted by a callback at most once and
// only before ExpiresAt.
type OAuthState struct {
	// Token is a cryptographically random value of at least 128 bits.
	Token string `json:"token"`

	Platform Platform `json:"platform"`

	// User identifies the requesting context (user or session identity)
	// the flow is bound to.
	User string `json:"user"`

	AccountName        string `json:"account_name,omitempty"`
	AccountDescription string `json:"account_description,omitempty"`
	Organization       string `json:"organization,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// Expired reports whether the state is past its expiry at the given time.
func (s *OAuthState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AdAccount is a remote ad account available to an authorized user.
type AdAccount struct {
	// ID is the Graph object id ("act_<n>").
	ID string `json:"id"`

	// AccountID is the bare numeric account id.
	AccountID string `json:"account_id"`

	Name        string  `json:"name"`
	Currency    string  `json:"currency,omitempty"`
	Timezone    string  `json:"timezone,omitempty"`
	Status      int     `json:"status,omitempty"`
	AmountSpent float64 `json:"amount_spent,omitempty"`
}

// PendingSession bridges a successful token exchange to the final
// account selection. It holds the accounts the authorizing user may
// connect and the exchanged token, and expires independently of the
// OAuthState that produced it. A session is deleted once an account is
// connected (single use).
type PendingSession struct {
	ID       string   `json:"id"`
	Platform Platform `json:"platform"`
	User     string   `json:"user"`

	// UserAccessToken is the long-lived token from the exchange. Secret.
	UserAccessToken string    `json:"-"`
	TokenExpiry     time.Time `json:"token_expiry"`

	Accounts []AdAccount `json:"accounts"`

	AuthorizedUserID   string `json:"authorized_user_id,omitempty"`
	AuthorizedUserName string `json:"authorized_user_name,omitempty"`

	AccountName        string `json:"account_name,omitempty"`
	AccountDescription string `json:"account_description,omitempty"`
	Organization       string `json:"organization,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *PendingSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Account returns the session account with the given Graph id, if present.
func (s *PendingSession) Account(id string) (AdAccount, bool) {
	for _, a := range s.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AdAccount{}, false
}

// Campaign is a locally tracked advertising campaign synced from or
// launched on a remote platform.
type Campaign struct {
	ID            string    `json:"id"`
	IntegrationID string    `json:"integration_id"`
	RemoteID      string    `json:"remote_id"`
	Name          string    `json:"name"`
	Objective     string    `json:"objective,omitempty"`
	Status        string    `json:"status,omitempty"`
	DailyBudget   int64     `json:"daily_budget,omitempty"`
	SyncedAt      time.Time `json:"synced_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TestResult is the structured outcome of a connection probe. Probes are
// diagnostic: they report failure in the result instead of returning an
// error to the caller.
type TestResult struct {
	Success     bool   `json:"success"`
	AccountName string `json:"account_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SyncResult reports the outcome of a campaign sync.
type SyncResult struct {
	Synced  int `json:"synced"`
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// LaunchResult reports the remote objects created by a campaign launch.
type LaunchResult struct {
	CampaignID string `json:"campaign_id"`
	AdSetID    string `json:"ad_set_id,omitempty"`
	AdID       string `json:"ad_id,omitempty"`
}
