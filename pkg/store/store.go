// Package store persists integrations and campaigns. Two backings are
// provided: an in-memory store for tests and single-process use, and a
// bun/SQLite store for durable deployments. Token columns are encrypted
// at rest when a Cipher is configured.
package store

import (
	"context"
	"time"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// IntegrationStore persists advertising integrations.
//
// Implementations decrypt token fields on read and encrypt them on
// write, so callers only ever see plaintext tokens. Integrations are
// never hard-deleted; disconnection is a status transition performed
// through ClearSecrets.
type IntegrationStore interface {
	// Save inserts or fully replaces an integration.
	Save(ctx context.Context, in *types.Integration) error

	// Get returns the integration with the given id, or
	// types.ErrIntegrationNotFound.
	Get(ctx context.Context, id string) (*types.Integration, error)

	// FindByAccount returns the integration bound to the given platform
	// and remote ad account id, or types.ErrIntegrationNotFound.
	FindByAccount(ctx context.Context, platform types.Platform, adAccountID string) (*types.Integration, error)

	// List returns all integrations, optionally filtered by platform
	// (zero value means all platforms).
	List(ctx context.Context, platform types.Platform) ([]*types.Integration, error)

	// ListExpiring returns connected integrations whose token expiry
	// falls before the given deadline.
	ListExpiring(ctx context.Context, deadline time.Time) ([]*types.Integration, error)

	// UpdateStatus sets the connection status and last-error fields.
	// An empty lastError clears any recorded error.
	UpdateStatus(ctx context.Context, id string, status types.ConnectionStatus, lastError string, at time.Time) error

	// SetTokens replaces the stored token material and marks the
	// integration connected.
	SetTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time, at time.Time) error

	// ClearSecrets removes all token material and sets the given
	// status and last-error in one atomic write. No intermediate state
	// where the status changed but a token remains (or vice versa) is
	// observable. An empty lastError clears any recorded error.
	ClearSecrets(ctx context.Context, id string, status types.ConnectionStatus, lastError string, at time.Time) error

	// MarkSynced records a completed campaign sync.
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// CampaignStore persists campaigns synced from or launched on a remote
// platform.
type CampaignStore interface {
	// Upsert inserts the campaign or updates the existing row with the
	// same integration id and remote id. It reports whether a new row
	// was created.
	Upsert(ctx context.Context, c *types.Campaign) (created bool, err error)

	// ListByIntegration returns all campaigns for an integration.
	ListByIntegration(ctx context.Context, integrationID string) ([]*types.Campaign, error)
}
