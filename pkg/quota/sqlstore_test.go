package quota

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	db := bun.NewDB(conn, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSQLTracker(t *testing.T, limits map[types.Platform]int) *SQLTracker {
	t.Helper()
	tr := NewSQLTracker(newTestDB(t), limits, time.UTC)
	require.NoError(t, tr.Migrate(context.Background()))
	return tr
}

func TestSQLTrackerReserve(t *testing.T) {
	ctx := context.Background()
	tr := newSQLTracker(t, map[types.Platform]int{types.PlatformFacebook: 2})

	_, err := tr.CheckAndReserve(ctx, types.PlatformFacebook)
	require.NoError(t, err)
	_, err = tr.CheckAndReserve(ctx, types.PlatformFacebook)
	require.NoError(t, err)

	_, err = tr.CheckAndReserve(ctx, types.PlatformFacebook)
	var qErr *types.QuotaExceededError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, 2, qErr.Limit)

	n, err := tr.Count(ctx, types.PlatformFacebook)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Another platform has its own counter.
	_, err = tr.CheckAndReserve(ctx, types.PlatformInstagram)
	assert.NoError(t, err)
}

func TestSQLTrackerRollback(t *testing.T) {
	ctx := context.Background()
	tr := newSQLTracker(t, map[types.Platform]int{types.PlatformFacebook: 1})

	res, err := tr.CheckAndReserve(ctx, types.PlatformFacebook)
	require.NoError(t, err)

	require.NoError(t, tr.Rollback(ctx, res))
	require.NoError(t, tr.Rollback(ctx, res))

	n, err := tr.Count(ctx, types.PlatformFacebook)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = tr.CheckAndReserve(ctx, types.PlatformFacebook)
	assert.NoError(t, err)
}

func TestSQLTrackerReset(t *testing.T) {
	ctx := context.Background()
	tr := newSQLTracker(t, nil)

	_, err := tr.CheckAndReserve(ctx, types.PlatformFacebook)
	require.NoError(t, err)
	_, err = tr.CheckAndReserve(ctx, types.PlatformInstagram)
	require.NoError(t, err)

	require.NoError(t, tr.Reset(ctx, types.PlatformFacebook))
	n, _ := tr.Count(ctx, types.PlatformFacebook)
	assert.Equal(t, 0, n)
	n, _ = tr.Count(ctx, types.PlatformInstagram)
	assert.Equal(t, 1, n)

	require.NoError(t, tr.ResetAll(ctx))
	n, _ = tr.Count(ctx, types.PlatformInstagram)
	assert.Equal(t, 0, n)
}

func TestSQLTrackerCountMissingRow(t *testing.T) {
	tr := newSQLTracker(t, nil)
	n, err := tr.Count(context.Background(), types.PlatformFacebook)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLTrackerRollover(t *testing.T) {
	ctx := context.Background()
	tr := newSQLTracker(t, map[types.Platform]int{types.PlatformFacebook: 1})

	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return base })

	res, err := tr.CheckAndReserve(ctx, types.PlatformFacebook)
	require.NoError(t, err)
	_, err = tr.CheckAndReserve(ctx, types.PlatformFacebook)
	require.Error(t, err)

	// Next day uses a fresh counter row.
	tr.SetClock(func() time.Time { return base.Add(2 * time.Hour) })

	n, err := tr.Count(ctx, types.PlatformFacebook)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = tr.CheckAndReserve(ctx, types.PlatformFacebook)
	require.NoError(t, err)

	// Yesterday's reservation is ignored today.
	require.NoError(t, tr.Rollback(ctx, res))
	n, _ = tr.Count(ctx, types.PlatformFacebook)
	assert.Equal(t, 1, n)
}
