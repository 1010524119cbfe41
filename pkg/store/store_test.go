package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// integrationStores builds every IntegrationStore implementation so the
// contract tests run against each.
func integrationStores(t *testing.T) map[string]IntegrationStore {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cipher, err := NewCipher("test-key")
	require.NoError(t, err)

	sqlStore := NewSQLIntegrationStore(db, cipher)
	require.NoError(t, sqlStore.Migrate(context.Background()))

	return map[string]IntegrationStore{
		"memory": NewMemoryIntegrationStore(),
		"sql":    sqlStore,
	}
}

func seedIntegration(t *testing.T, s IntegrationStore, now time.Time) *types.Integration {
	t.Helper()
	in := &types.Integration{
		Platform:         types.PlatformFacebook,
		AccountName:      "Main",
		AdAccountID:      "act_100",
		ConnectionStatus: types.StatusConnected,
		AccessToken:      "token-abc",
		RefreshToken:     "refresh-xyz",
		TokenExpiry:      now.Add(60 * 24 * time.Hour),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.Save(context.Background(), in))
	require.NotEmpty(t, in.ID)
	return in
}

func TestIntegrationStorecontract(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range integrationStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("SaveGetRoundTrip", func(t *testing.T) {
				in := seedIntegration(t, s, now)

				got, err := s.Get(ctx, in.ID)
				require.NoError(t, err)
				assert.Equal(t, "token-abc", got.AccessToken)
				assert.Equal(t, "refresh-xyz", got.RefreshToken)
				assert.Equal(t, types.StatusConnected, got.ConnectionStatus)
				assert.Equal(t, "act_100", got.AdAccountID)
			})

			t.Run("GetUnknown", func(t *testing.T) {
				_, err := s.Get(ctx, "no-such-id")
				assert.ErrorIs(t, err, types.ErrIntegrationNotFound)
			})

			t.Run("FindByAccount", func(t *testing.T) {
				got, err := s.FindByAccount(ctx, types.PlatformFacebook, "act_100")
				require.NoError(t, err)
				assert.Equal(t, "Main", got.AccountName)

				_, err = s.FindByAccount(ctx, types.PlatformInstagram, "act_100")
				assert.ErrorIs(t, err, types.ErrIntegrationNotFound)
			})

			t.Run("ClearSecretsAtomic", func(t *testing.T) {
				in := seedIntegration(t, s, now)
				require.NoError(t, s.ClearSecrets(ctx, in.ID, types.StatusNotConnected, "", now.Add(time.Hour)))

				got, err := s.Get(ctx, in.ID)
				require.NoError(t, err)
				assert.Empty(t, got.AccessToken)
				assert.Empty(t, got.RefreshToken)
				assert.True(t, got.TokenExpiry.IsZero())
				assert.Equal(t, types.StatusNotConnected, got.ConnectionStatus)
				assert.Empty(t, got.LastError)
				assert.False(t, got.DisconnectedAt.IsZero())
			})

			t.Run("ClearSecretsRecordsError", func(t *testing.T) {
				in := seedIntegration(t, s, now)
				require.NoError(t, s.ClearSecrets(ctx, in.ID, types.StatusError, "probe rejected", now.Add(time.Hour)))

				got, err := s.Get(ctx, in.ID)
				require.NoError(t, err)
				assert.Empty(t, got.AccessToken)
				assert.Empty(t, got.RefreshToken)
				assert.Equal(t, types.StatusError, got.ConnectionStatus)
				assert.Equal(t, "probe rejected", got.LastError)
				assert.False(t, got.LastErrorAt.IsZero())
				assert.True(t, got.DisconnectedAt.IsZero())
			})

			t.Run("UpdateStatusRecordsError", func(t *testing.T) {
				in := seedIntegration(t, s, now)
				require.NoError(t, s.UpdateStatus(ctx, in.ID, types.StatusError, "probe failed", now.Add(time.Hour)))

				got, err := s.Get(ctx, in.ID)
				require.NoError(t, err)
				assert.Equal(t, types.StatusError, got.ConnectionStatus)
				assert.Equal(t, "probe failed", got.LastError)
				assert.False(t, got.LastErrorAt.IsZero())

				// An empty error clears the record.
				require.NoError(t, s.UpdateStatus(ctx, in.ID, types.StatusConnected, "", now.Add(2*time.Hour)))
				got, err = s.Get(ctx, in.ID)
				require.NoError(t, err)
				assert.Empty(t, got.LastError)
				assert.True(t, got.LastErrorAt.IsZero())
			})

			t.Run("SetTokens", func(t *testing.T) {
				in := seedIntegration(t, s, now)
				expiry := now.Add(90 * 24 * time.Hour)
				require.NoError(t, s.SetTokens(ctx, in.ID, "new-token", "", expiry, now.Add(time.Hour)))

				got, err := s.Get(ctx, in.ID)
				require.NoError(t, err)
				assert.Equal(t, "new-token", got.AccessToken)
				assert.Equal(t, expiry.Unix(), got.TokenExpiry.Unix())
				assert.Equal(t, types.StatusConnected, got.ConnectionStatus)
			})

			t.Run("ListExpiring", func(t *testing.T) {
				in := seedIntegration(t, s, now)
				soon := now.Add(6 * time.Hour)
				require.NoError(t, s.SetTokens(ctx, in.ID, "tok", "", soon, now))

				expiring, err := s.ListExpiring(ctx, now.Add(24*time.Hour))
				require.NoError(t, err)

				found := false
				for _, e := range expiring {
					if e.ID == in.ID {
						found = true
					}
					assert.Equal(t, types.StatusConnected, e.ConnectionStatus)
				}
				assert.True(t, found)
			})

			t.Run("MarkSynced", func(t *testing.T) {
				in := seedIntegration(t, s, now)
				at := now.Add(3 * time.Hour)
				require.NoError(t, s.MarkSynced(ctx, in.ID, at))

				got, err := s.Get(ctx, in.ID)
				require.NoError(t, err)
				assert.Equal(t, at.Unix(), got.LastSyncedAt.Unix())
			})
		})
	}
}

func TestSQLStoreEncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "enc.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	cipher, err := NewCipher("at-rest-key")
	require.NoError(t, err)
	s := NewSQLIntegrationStore(db, cipher)
	require.NoError(t, s.Migrate(ctx))

	in := seedIntegration(t, s, time.Now())

	// The raw column must not contain the plaintext token.
	var rawToken string
	err = db.QueryRowContext(ctx, "SELECT access_token FROM integrations WHERE id = ?", in.ID).Scan(&rawToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rawToken)
	assert.NotContains(t, rawToken, "token-abc")

	got, err := s.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-abc", got.AccessToken)
}

func TestCampaignStores(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "campaigns.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	sqlStore := NewSQLCampaignStore(db)
	require.NoError(t, sqlStore.Migrate(ctx))

	stores := map[string]CampaignStore{
		"memory": NewMemoryCampaignStore(),
		"sql":    sqlStore,
	}

	for name, s := range stores {
		s := s
		t.Run(name, func(t *testing.T) {
			c := &types.Campaign{
				IntegrationID: "int-1",
				RemoteID:      "cmp_9",
				Name:          "First",
				Status:        "ACTIVE",
				DailyBudget:   5000,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			created, err := s.Upsert(ctx, c)
			require.NoError(t, err)
			assert.True(t, created)
			require.NotEmpty(t, c.ID)
			firstID := c.ID

			// Same remote id updates in place.
			update := &types.Campaign{
				IntegrationID: "int-1",
				RemoteID:      "cmp_9",
				Name:          "Renamed",
				Status:        "PAUSED",
				UpdatedAt:     now.Add(time.Hour),
			}
			created, err = s.Upsert(ctx, update)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, firstID, update.ID)

			list, err := s.ListByIntegration(ctx, "int-1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "Renamed", list[0].Name)
			assert.Equal(t, "PAUSED", list[0].Status)

			// Other integrations are isolated.
			other, err := s.ListByIntegration(ctx, "int-2")
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}
