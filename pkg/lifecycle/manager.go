// Package lifecycle manages connected integrations after the OAuth
// flow: disconnecting, probing, syncing campaigns, launching campaigns
// under daily quota, and keeping tokens fresh.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketforge/ads-sync-kit/pkg/config"
	"github.com/marketforge/ads-sync-kit/pkg/graph"
	"github.com/marketforge/ads-sync-kit/pkg/metrics"
	"github.com/marketforge/ads-sync-kit/pkg/quota"
	"github.com/marketforge/ads-sync-kit/pkg/store"
	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// Manager runs integration lifecycle operations.
type Manager struct {
	cfg          *config.Config
	graph        *graph.Client
	integrations store.IntegrationStore
	campaigns    store.CampaignStore
	quota        quota.Tracker
	logger       *zap.Logger
	collector    *metrics.Collector
	now          func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(cfg *config.Config, gc *graph.Client, integrations store.IntegrationStore, campaigns store.CampaignStore, tracker quota.Tracker, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		graph:        gc,
		integrations: integrations,
		campaigns:    campaigns,
		quota:        tracker,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the manager's clock. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// WithMetrics attaches a collector counting launches and syncs per
// platform. A nil collector is a no-op.
func (m *Manager) WithMetrics(c *metrics.Collector) *Manager {
	m.collector = c
	return m
}

// Disconnect clears the integration's credentials and marks it not
// connected. Disconnecting an already disconnected integration is a
// no-op. The integration row itself is kept.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	in, err := m.integrations.Get(ctx, id)
	if err != nil {
		return err
	}
	if in.ConnectionStatus == types.StatusNotConnected && in.AccessToken == "" {
		return nil
	}
	if err := m.integrations.ClearSecrets(ctx, id, types.StatusNotConnected, "", m.now()); err != nil {
		return err
	}
	m.logger.Info("integration disconnected",
		zap.String("integration_id", id),
		zap.String("platform", in.Platform.String()))
	return nil
}

// TestConnection probes the integration's ad account. Probe failures
// are reported in the result, never as a returned error; the only error
// paths are an unknown integration id or a store failure. A failed
// probe records the error, clears the integration's credentials, and
// marks it Error (Expired when the token was rejected). A successful
// probe clears any recorded error.
func (m *Manager) TestConnection(ctx context.Context, id string) (*types.TestResult, error) {
	in, err := m.integrations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !in.Connected() {
		return &types.TestResult{Success: false, Error: "integration is not connected"}, nil
	}

	probe, probeErr := m.graph.Probe(ctx, in.Platform, in.ID, in.AccessToken, in.AdAccountID)
	if probeErr != nil {
		msg := summarize(probeErr)
		status := types.StatusError
		if authExpired(probeErr) {
			status = types.StatusExpired
		}
		// Tokens never outlive the Connected status, so a failed probe
		// clears them along with the transition.
		if err := m.integrations.ClearSecrets(ctx, id, status, msg, m.now()); err != nil {
			return nil, err
		}
		m.logger.Warn("connection probe failed",
			zap.String("integration_id", id),
			zap.String("error", msg))
		return &types.TestResult{Success: false, Error: msg}, nil
	}

	if err := m.integrations.UpdateStatus(ctx, id, types.StatusConnected, "", m.now()); err != nil {
		return nil, err
	}
	return &types.TestResult{Success: true, AccountName: probe.Name}, nil
}

// connectedIntegration loads the integration, refreshes its token when
// close to expiry, and rejects anything not Connected.
func (m *Manager) connectedIntegration(ctx context.Context, id string) (*types.Integration, error) {
	in, err := m.integrations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err = m.ensureFreshToken(ctx, in)
	if err != nil {
		return nil, err
	}
	if !in.Connected() {
		return nil, &types.ProviderAuthError{Platform: in.Platform, Reason: "integration is not connected"}
	}
	return in, nil
}

// SyncCampaigns pulls the integration's remote campaigns and upserts
// them locally. Typed API errors propagate to the caller unchanged.
func (m *Manager) SyncCampaigns(ctx context.Context, id string) (*types.SyncResult, error) {
	in, err := m.connectedIntegration(ctx, id)
	if err != nil {
		return nil, err
	}

	remote, err := m.graph.Campaigns(ctx, in.Platform, in.ID, in.AccessToken, in.AdAccountID)
	if err != nil {
		return nil, m.markOnAuthExpired(ctx, id, err)
	}

	now := m.now()
	result := &types.SyncResult{}
	for _, rc := range remote {
		c := &types.Campaign{
			IntegrationID: in.ID,
			RemoteID:      rc.ID,
			Name:          rc.Name,
			Objective:     rc.Objective,
			Status:        rc.Status,
			DailyBudget:   rc.BudgetCents(),
			SyncedAt:      now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		created, err := m.campaigns.Upsert(ctx, c)
		if err != nil {
			return nil, err
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		result.Synced++
	}

	if err := m.integrations.MarkSynced(ctx, id, now); err != nil {
		return nil, err
	}
	m.collector.RecordSync(in.Platform)
	m.logger.Info("campaigns synced",
		zap.String("integration_id", id),
		zap.Int("synced", result.Synced),
		zap.Int("created", result.Created))
	return result, nil
}

// AccountPerformance fetches account-level delivery metrics for the
// integration's ad account over the last seven days.
func (m *Manager) AccountPerformance(ctx context.Context, id string) (*graph.Insights, error) {
	in, err := m.connectedIntegration(ctx, id)
	if err != nil {
		return nil, err
	}
	ins, err := m.graph.AccountInsights(ctx, in.Platform, in.ID, in.AccessToken, in.AdAccountID)
	if err != nil {
		return nil, m.markOnAuthExpired(ctx, id, err)
	}
	return ins, nil
}

// CampaignPerformance fetches delivery metrics for one remote campaign
// over the last seven days.
func (m *Manager) CampaignPerformance(ctx context.Context, id, remoteCampaignID string) (*graph.Insights, error) {
	in, err := m.connectedIntegration(ctx, id)
	if err != nil {
		return nil, err
	}
	ins, err := m.graph.CampaignInsights(ctx, in.Platform, in.ID, in.AccessToken, remoteCampaignID)
	if err != nil {
		return nil, m.markOnAuthExpired(ctx, id, err)
	}
	return ins, nil
}

// PauseCampaign stops delivery of a remote campaign. The local row
// picks up the new status on the next sync.
func (m *Manager) PauseCampaign(ctx context.Context, id, remoteCampaignID string) error {
	return m.setCampaignStatus(ctx, id, remoteCampaignID, "PAUSED")
}

// ResumeCampaign restarts delivery of a paused remote campaign.
func (m *Manager) ResumeCampaign(ctx context.Context, id, remoteCampaignID string) error {
	return m.setCampaignStatus(ctx, id, remoteCampaignID, "ACTIVE")
}

func (m *Manager) setCampaignStatus(ctx context.Context, id, remoteCampaignID, status string) error {
	in, err := m.connectedIntegration(ctx, id)
	if err != nil {
		return err
	}
	if err := m.graph.UpdateCampaignStatus(ctx, in.Platform, in.ID, in.AccessToken, remoteCampaignID, status); err != nil {
		return m.markOnAuthExpired(ctx, id, err)
	}
	m.logger.Info("campaign status updated",
		zap.String("integration_id", id),
		zap.String("campaign_id", remoteCampaignID),
		zap.String("status", status))
	return nil
}

// markOnAuthExpired clears credentials and marks the integration
// expired when the remote call was rejected for a dead token, then
// propagates the original error.
func (m *Manager) markOnAuthExpired(ctx context.Context, id string, err error) error {
	if authExpired(err) {
		if serr := m.integrations.ClearSecrets(ctx, id, types.StatusExpired, summarize(err), m.now()); serr != nil {
			return serr
		}
	}
	return err
}

// LaunchCampaign reserves a daily launch slot, then creates the
// campaign, ad set, and ad on the remote platform. A permanent remote
// failure returns the reserved slot; transient exhaustion keeps it,
// since the remote objects may exist.
func (m *Manager) LaunchCampaign(ctx context.Context, id string, spec graph.CampaignSpec) (*types.LaunchResult, error) {
	in, err := m.connectedIntegration(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := m.quota.CheckAndReserve(ctx, in.Platform)
	if err != nil {
		return nil, err
	}

	campaignID, err := m.graph.CreateCampaign(ctx, in.Platform, in.ID, in.AccessToken, in.AdAccountID, spec)
	if err != nil {
		return nil, m.releaseOnPermanent(ctx, res, err)
	}

	result := &types.LaunchResult{CampaignID: campaignID}

	adSetID, err := m.graph.CreateAdSet(ctx, in.Platform, in.ID, in.AccessToken, campaignID, spec)
	if err != nil {
		// The campaign exists remotely, so the slot stays spent.
		return result, err
	}
	result.AdSetID = adSetID

	if spec.CreativeID != "" {
		adID, err := m.graph.CreateAd(ctx, in.Platform, in.ID, in.AccessToken, adSetID, spec.CreativeID)
		if err != nil {
			return result, err
		}
		result.AdID = adID
	}

	now := m.now()
	c := &types.Campaign{
		IntegrationID: in.ID,
		RemoteID:      campaignID,
		Name:          spec.Name,
		Objective:     spec.Objective,
		Status:        "PAUSED",
		DailyBudget:   spec.DailyBudgetCents,
		SyncedAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := m.campaigns.Upsert(ctx, c); err != nil {
		return result, err
	}

	m.collector.RecordLaunch(in.Platform)
	m.logger.Info("campaign launched",
		zap.String("integration_id", id),
		zap.String("campaign_id", campaignID))
	return result, nil
}

// releaseOnPermanent rolls back the quota reservation when nothing was
// created remotely. Transient exhaustion is ambiguous, the create may
// have landed, so the slot stays spent.
func (m *Manager) releaseOnPermanent(ctx context.Context, res quota.Reservation, cause error) error {
	if permanent(cause) {
		if rbErr := m.quota.Rollback(ctx, res); rbErr != nil {
			m.logger.Warn("quota rollback failed", zap.Error(rbErr))
		}
	}
	return cause
}

// RefreshToken exchanges the integration's token for a fresh long-lived
// one. A refresh rejected by the provider marks the integration expired
// and clears its credentials.
func (m *Manager) RefreshToken(ctx context.Context, id string) error {
	in, err := m.integrations.Get(ctx, id)
	if err != nil {
		return err
	}
	if !in.Connected() {
		return &types.ProviderAuthError{Platform: in.Platform, Reason: "integration is not connected"}
	}

	newToken, lifetime, err := m.graph.RefreshLongLived(ctx, in.Platform, in.AccessToken)
	if err != nil {
		if authExpired(err) || permanent(err) {
			if cerr := m.integrations.ClearSecrets(ctx, id, types.StatusExpired, summarize(err), m.now()); cerr != nil {
				return cerr
			}
			m.logger.Warn("token refresh rejected, re-authorization required",
				zap.String("integration_id", id))
		}
		return err
	}

	now := m.now()
	if err := m.integrations.SetTokens(ctx, id, newToken, in.RefreshToken, now.Add(lifetime), now); err != nil {
		return err
	}
	m.logger.Info("token refreshed",
		zap.String("integration_id", id),
		zap.Time("expiry", now.Add(lifetime)))
	return nil
}

// RefreshExpiringTokens refreshes every connected integration whose
// token expires within the configured refresh-ahead window. One failed
// refresh does not stop the sweep; the first error is returned after
// every candidate was attempted.
func (m *Manager) RefreshExpiringTokens(ctx context.Context) error {
	deadline := m.now().Add(m.cfg.TokenRefreshAhead)
	expiring, err := m.integrations.ListExpiring(ctx, deadline)
	if err != nil {
		return err
	}

	var first error
	for _, in := range expiring {
		if err := m.RefreshToken(ctx, in.ID); err != nil {
			m.logger.Warn("scheduled token refresh failed",
				zap.String("integration_id", in.ID),
				zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// ResetDailyLimits zeroes today's launch counters. With no platforms
// given every platform is reset.
func (m *Manager) ResetDailyLimits(ctx context.Context, platforms ...types.Platform) error {
	if len(platforms) == 0 {
		return m.quota.ResetAll(ctx)
	}
	for _, p := range platforms {
		if err := m.quota.Reset(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// ensureFreshToken refreshes the integration's token ahead of an
// authenticated call when it is close to expiry. The refreshed
// integration is re-read so the caller sees the new token.
func (m *Manager) ensureFreshToken(ctx context.Context, in *types.Integration) (*types.Integration, error) {
	if !in.Connected() || !in.TokenExpiringWithin(m.now(), m.cfg.TokenRefreshAhead) {
		return in, nil
	}
	if err := m.RefreshToken(ctx, in.ID); err != nil {
		return nil, err
	}
	return m.integrations.Get(ctx, in.ID)
}

// summarize renders an error for LastError and probe results. Tokens
// never appear in error messages, so the rendered text is safe to
// persist.
func summarize(err error) string {
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return fmt.Sprintf("%v", err)
}

func authExpired(err error) bool {
	var apiErr *types.APIError
	return errors.As(err, &apiErr) && apiErr.Kind == types.APIErrorAuthExpired
}

func permanent(err error) bool {
	var apiErr *types.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == types.APIErrorPermanent || apiErr.Kind == types.APIErrorAuthExpired
	}
	return false
}
