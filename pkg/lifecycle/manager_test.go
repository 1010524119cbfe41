package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketforge/ads-sync-kit/internal/testutil"
	"github.com/marketforge/ads-sync-kit/pkg/config"
	"github.com/marketforge/ads-sync-kit/pkg/graph"
	"github.com/marketforge/ads-sync-kit/pkg/quota"
	"github.com/marketforge/ads-sync-kit/pkg/store"
	"github.com/marketforge/ads-sync-kit/pkg/types"
)

type managerFixture struct {
	fake         *testutil.FakeGraph
	integrations *store.MemoryIntegrationStore
	campaigns    *store.MemoryCampaignStore
	tracker      *quota.MemoryTracker
	manager      *Manager

	mu    sync.Mutex
	clock time.Time
}

func newManagerFixture(t *testing.T, limits map[types.Platform]int) *managerFixture {
	t.Helper()

	fake := testutil.NewFakeGraph()
	t.Cleanup(fake.Close)

	cfg := config.Default()
	cfg.Meta.AppID = "app-id"
	cfg.Meta.AppSecret = "app-secret"
	cfg.Meta.GraphBaseURL = fake.URL()
	cfg.RateLimit.Enabled = false

	gc := graph.NewClient(cfg, nil, nil)
	gc.Executor().WithSleep(func(context.Context, time.Duration) error { return nil })

	f := &managerFixture{
		fake:         fake,
		integrations: store.NewMemoryIntegrationStore(),
		campaigns:    store.NewMemoryCampaignStore(),
		tracker:      quota.NewMemoryTracker(limits, time.UTC),
		clock:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(cfg, gc, f.integrations, f.campaigns, f.tracker, nil)
	f.manager.SetClock(f.now)
	return f
}

func (f *managerFixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *managerFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(d)
}

func (f *managerFixture) seedConnected(t *testing.T, tokenLife time.Duration) *types.Integration {
	t.Helper()
	now := f.now()
	in := &types.Integration{
		Platform:         types.PlatformFacebook,
		AccountName:      "Main",
		AdAccountID:      "act_100",
		ConnectionStatus: types.StatusConnected,
		AccessToken:      "live-token",
		TokenExpiry:      now.Add(tokenLife),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.integrations.Save(context.Background(), in))
	return in
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, nil)
	in := f.seedConnected(t, 60*24*time.Hour)

	require.NoError(t, f.manager.Disconnect(ctx, in.ID))

	got, err := f.integrations.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusNotConnected, got.ConnectionStatus)
	assert.Empty(t, got.AccessToken)
	assert.False(t, got.DisconnectedAt.IsZero())

	// Second disconnect is a no-op, not an error.
	require.NoError(t, f.manager.Disconnect(ctx, in.ID))

	t.Run("UnknownIntegration", func(t *testing.T) {
		err := f.manager.Disconnect(ctx, "missing")
		assert.ErrorIs(t, err, types.ErrIntegrationNotFound)
	})
}

func TestTestConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		f.fake.ProbeName = "Main Account"
		in := f.seedConnected(t, 60*24*time.Hour)

		res, err := f.manager.TestConnection(ctx, in.ID)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "Main Account", res.AccountName)
	})

	t.Run("FailureClearsCredentials", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)

		f.fake.FailNext(testutil.Failure{Status: 400, Code: 100, Message: "unsupported request"})
		res, err := f.manager.TestConnection(ctx, in.ID)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)

		// Tokens never outlive the Connected status.
		got, err := f.integrations.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusError, got.ConnectionStatus)
		assert.Empty(t, got.AccessToken)
		assert.Empty(t, got.RefreshToken)
		assert.True(t, got.TokenExpiry.IsZero())
		assert.NotEmpty(t, got.LastError)
		// Error text never contains the token.
		assert.NotContains(t, got.LastError, "live-token")
	})

	t.Run("SuccessAfterReconnectClearsError", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)

		f.fake.FailNext(testutil.Failure{Status: 400, Code: 100, Message: "unsupported request"})
		_, err := f.manager.TestConnection(ctx, in.ID)
		require.NoError(t, err)

		// Reconnecting restores credentials; the next probe succeeds and
		// clears the recorded error.
		require.NoError(t, f.integrations.SetTokens(ctx, in.ID, "fresh-token", "", f.now().Add(60*24*time.Hour), f.now()))

		res, err := f.manager.TestConnection(ctx, in.ID)
		require.NoError(t, err)
		assert.True(t, res.Success)

		got, err := f.integrations.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusConnected, got.ConnectionStatus)
		assert.Empty(t, got.LastError)
	})

	t.Run("TransientExhaustionMarksError", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)

		// Enough 500s to exhaust the retry schedule.
		f.fake.FailNext(
			testutil.Failure{Status: 500},
			testutil.Failure{Status: 500},
			testutil.Failure{Status: 500},
			testutil.Failure{Status: 500},
		)
		res, err := f.manager.TestConnection(ctx, in.ID)
		require.NoError(t, err)
		assert.False(t, res.Success)

		got, err := f.integrations.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusError, got.ConnectionStatus)
		assert.Empty(t, got.AccessToken)
	})

	t.Run("ExpiredTokenMarksExpired", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)

		f.fake.FailNext(testutil.Failure{Status: 401, Code: 190, Message: "token invalid"})
		res, err := f.manager.TestConnection(ctx, in.ID)
		require.NoError(t, err)
		assert.False(t, res.Success)

		got, err := f.integrations.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusExpired, got.ConnectionStatus)
		assert.Empty(t, got.AccessToken)
	})

	t.Run("NotConnected", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)
		require.NoError(t, f.manager.Disconnect(ctx, in.ID))

		res, err := f.manager.TestConnection(ctx, in.ID)
		require.NoError(t, err)
		assert.False(t, res.Success)
	})
}

func TestSyncCampaigns(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, nil)
	f.fake.Campaigns = []testutil.FakeCampaign{
		{ID: "c1", Name: "Spring", Objective: "REACH", Status: "ACTIVE", DailyBudget: "5000"},
		{ID: "c2", Name: "Summer", Objective: "LINK_CLICKS", Status: "PAUSED", DailyBudget: "2500"},
	}
	in := f.seedConnected(t, 60*24*time.Hour)

	res, err := f.manager.SyncCampaigns(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Updated)

	// A second sync updates in place.
	f.fake.Campaigns[0].Name = "Spring Renamed"
	res, err = f.manager.SyncCampaigns(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Updated)

	list, err := f.campaigns.ListByIntegration(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Spring Renamed", list[0].Name)
	assert.Equal(t, int64(5000), list[0].DailyBudget)

	got, err := f.integrations.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.False(t, got.LastSyncedAt.IsZero())

	t.Run("AuthExpiredMarksIntegration", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)

		f.fake.FailNext(testutil.Failure{Status: 401, Code: 190})
		_, err := f.manager.SyncCampaigns(ctx, in.ID)
		var apiErr *types.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, types.APIErrorAuthExpired, apiErr.Kind)

		got, err := f.integrations.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusExpired, got.ConnectionStatus)
		assert.Empty(t, got.AccessToken)
		assert.Empty(t, got.RefreshToken)
	})

	t.Run("NotConnected", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)
		require.NoError(t, f.manager.Disconnect(ctx, in.ID))

		_, err := f.manager.SyncCampaigns(ctx, in.ID)
		var authErr *types.ProviderAuthError
		assert.ErrorAs(t, err, &authErr)
	})
}

func TestPerformance(t *testing.T) {
	ctx := context.Background()

	t.Run("AccountAndCampaign", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		f.fake.Insights = []testutil.FakeInsight{
			{Impressions: "900", Clicks: "30", Spend: "15.00", Reach: "700", CTR: "3.3"},
		}
		in := f.seedConnected(t, 60*24*time.Hour)

		ins, err := f.manager.AccountPerformance(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(900), ins.Impressions)

		ins, err = f.manager.CampaignPerformance(ctx, in.ID, "cmp_9")
		require.NoError(t, err)
		assert.Equal(t, int64(30), ins.Clicks)
	})

	t.Run("AuthExpiredClearsCredentials", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)

		f.fake.FailNext(testutil.Failure{Status: 401, Code: 190})
		_, err := f.manager.AccountPerformance(ctx, in.ID)
		var apiErr *types.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, types.APIErrorAuthExpired, apiErr.Kind)

		got, err := f.integrations.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusExpired, got.ConnectionStatus)
		assert.Empty(t, got.AccessToken)
	})

	t.Run("NotConnected", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)
		require.NoError(t, f.manager.Disconnect(ctx, in.ID))

		_, err := f.manager.CampaignPerformance(ctx, in.ID, "cmp_9")
		var authErr *types.ProviderAuthError
		assert.ErrorAs(t, err, &authErr)
	})
}

func TestLaunchCampaign(t *testing.T) {
	ctx := context.Background()
	spec := graph.CampaignSpec{Name: "Launch", DailyBudgetCents: 5000, StartPaused: true, CreativeID: "creative-1"}

	t.Run("FullChain", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)

		res, err := f.manager.LaunchCampaign(ctx, in.ID, spec)
		require.NoError(t, err)
		assert.Equal(t, "cmp_1", res.CampaignID)
		assert.Equal(t, "adset_1", res.AdSetID)
		assert.Equal(t, "ad_1", res.AdID)

		n, err := f.tracker.Count(ctx, types.PlatformFacebook)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		list, err := f.campaigns.ListByIntegration(ctx, in.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("QuotaExceeded", func(t *testing.T) {
		f := newManagerFixture(t, map[types.Platform]int{types.PlatformFacebook: 1})
		in := f.seedConnected(t, 60*24*time.Hour)

		_, err := f.manager.LaunchCampaign(ctx, in.ID, spec)
		require.NoError(t, err)

		_, err = f.manager.LaunchCampaign(ctx, in.ID, spec)
		var qErr *types.QuotaExceededError
		require.ErrorAs(t, err, &qErr)
		assert.Equal(t, 1, qErr.Limit)

		// The refused launch made no remote calls beyond the first
		// launch's three creates.
		n, _ := f.tracker.Count(ctx, types.PlatformFacebook)
		assert.Equal(t, 1, n)
	})

	t.Run("PermanentFailureReturnsSlot", func(t *testing.T) {
		f := newManagerFixture(t, map[types.Platform]int{types.PlatformFacebook: 1})
		in := f.seedConnected(t, 60*24*time.Hour)

		f.fake.FailNext(testutil.Failure{Status: 400, Code: 100, Message: "invalid objective"})
		_, err := f.manager.LaunchCampaign(ctx, in.ID, spec)
		var apiErr *types.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, types.APIErrorPermanent, apiErr.Kind)

		// The slot is free again, so the retry succeeds.
		n, _ := f.tracker.Count(ctx, types.PlatformFacebook)
		assert.Equal(t, 0, n)
		_, err = f.manager.LaunchCampaign(ctx, in.ID, spec)
		assert.NoError(t, err)
	})

	t.Run("TransientFailureKeepsSlot", func(t *testing.T) {
		f := newManagerFixture(t, map[types.Platform]int{types.PlatformFacebook: 5})
		in := f.seedConnected(t, 60*24*time.Hour)

		// The create may have landed remotely, so the slot stays spent.
		f.fake.FailNext(testutil.Failure{Status: 500})
		_, err := f.manager.LaunchCampaign(ctx, in.ID, spec)
		require.Error(t, err)

		n, _ := f.tracker.Count(ctx, types.PlatformFacebook)
		assert.Equal(t, 1, n)
	})
}

func TestPauseAndResumeCampaign(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, nil)
	in := f.seedConnected(t, 60*24*time.Hour)

	require.NoError(t, f.manager.PauseCampaign(ctx, in.ID, "cmp_9"))
	require.NoError(t, f.manager.ResumeCampaign(ctx, in.ID, "cmp_9"))

	t.Run("AuthExpiredClearsCredentials", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 60*24*time.Hour)

		f.fake.FailNext(testutil.Failure{Status: 401, Code: 190})
		err := f.manager.PauseCampaign(ctx, in.ID, "cmp_9")
		require.Error(t, err)

		got, err := f.integrations.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusExpired, got.ConnectionStatus)
		assert.Empty(t, got.AccessToken)
	})
}

func TestRefreshToken(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		f.fake.LongToken = "refreshed-token"
		in := f.seedConnected(t, 12*time.Hour)

		require.NoError(t, f.manager.RefreshToken(ctx, in.ID))

		got, err := f.integrations.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, "refreshed-token", got.AccessToken)
		assert.True(t, got.TokenExpiry.After(f.now().Add(30*24*time.Hour)))
	})

	t.Run("RejectedMarksExpired", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		in := f.seedConnected(t, 12*time.Hour)

		f.fake.FailNext(testutil.Failure{Status: 401, Code: 190})
		err := f.manager.RefreshToken(ctx, in.ID)
		require.Error(t, err)

		got, err := f.integrations.Get(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusExpired, got.ConnectionStatus)
		assert.Empty(t, got.AccessToken)
	})
}

func TestRefreshExpiringTokens(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, nil)
	f.fake.LongToken = "swept-token"

	soon := f.seedConnected(t, 6*time.Hour)

	// Second integration is far from expiry and must be left alone.
	far := &types.Integration{
		Platform:         types.PlatformFacebook,
		AccountName:      "Far",
		AdAccountID:      "act_200",
		ConnectionStatus: types.StatusConnected,
		AccessToken:      "far-token",
		TokenExpiry:      f.now().Add(50 * 24 * time.Hour),
		CreatedAt:        f.now(),
	}
	require.NoError(t, f.integrations.Save(ctx, far))

	require.NoError(t, f.manager.RefreshExpiringTokens(ctx))

	got, err := f.integrations.Get(ctx, soon.ID)
	require.NoError(t, err)
	assert.Equal(t, "swept-token", got.AccessToken)

	got, err = f.integrations.Get(ctx, far.ID)
	require.NoError(t, err)
	assert.Equal(t, "far-token", got.AccessToken)
}

func TestEnsureFreshTokenBeforeSync(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, nil)
	f.fake.LongToken = "pre-sync-refresh"
	// Expiring within the 24h refresh-ahead window.
	in := f.seedConnected(t, 2*time.Hour)

	_, err := f.manager.SyncCampaigns(ctx, in.ID)
	require.NoError(t, err)

	got, err := f.integrations.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, "pre-sync-refresh", got.AccessToken)
}

func TestResetDailyLimits(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, map[types.Platform]int{
		types.PlatformFacebook:  5,
		types.PlatformInstagram: 5,
	})

	_, err := f.tracker.CheckAndReserve(ctx, types.PlatformFacebook)
	require.NoError(t, err)
	_, err = f.tracker.CheckAndReserve(ctx, types.PlatformInstagram)
	require.NoError(t, err)

	require.NoError(t, f.manager.ResetDailyLimits(ctx, types.PlatformFacebook))
	n, _ := f.tracker.Count(ctx, types.PlatformFacebook)
	assert.Equal(t, 0, n)
	n, _ = f.tracker.Count(ctx, types.PlatformInstagram)
	assert.Equal(t, 1, n)

	require.NoError(t, f.manager.ResetDailyLimits(ctx))
	n, _ = f.tracker.Count(ctx, types.PlatformInstagram)
	assert.Equal(t, 0, n)
}
