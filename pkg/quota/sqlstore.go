package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// counterRow is the persisted per-platform, per-day counter.
type counterRow struct {
	bun.BaseModel `bun:"table:quota_counters"`

	Platform   string `bun:"platform,pk"`
	Date       string `bun:"date,pk"`
	Launches   int    `bun:"launches,notnull,default:0"`
	DailyLimit int    `bun:"daily_limit,notnull"`
}

// reservationRow records an admitted launch so Rollback stays idempotent
// across process restarts.
type reservationRow struct {
	bun.BaseModel `bun:"table:quota_reservations"`

	ID       string    `bun:"id,pk"`
	Platform string    `bun:"platform,notnull"`
	Date     string    `bun:"date,notnull"`
	TakenAt  time.Time `bun:"taken_at,notnull"`
}

// SQLTracker is a bun-backed Tracker. Atomicity of check-then-increment
// comes from a conditional UPDATE: the increment only lands when the
// row's count is still below its limit, so concurrent reservers cannot
// push the counter past the cap.
type SQLTracker struct {
	db     *bun.DB
	limits map[types.Platform]int
	loc    *time.Location
	now    func() time.Time
}

var _ Tracker = (*SQLTracker)(nil)

// NewSQLTracker creates a bun-backed tracker.
func NewSQLTracker(db *bun.DB, limits map[types.Platform]int, loc *time.Location) *SQLTracker {
	if loc == nil {
		loc = time.Local
	}
	return &SQLTracker{db: db, limits: limits, loc: loc, now: time.Now}
}

// SetClock overrides the tracker's clock. Test hook.
func (t *SQLTracker) SetClock(now func() time.Time) { t.now = now }

// Migrate creates the quota tables when absent.
func (t *SQLTracker) Migrate(ctx context.Context) error {
	for _, model := range []any{(*counterRow)(nil), (*reservationRow)(nil)} {
		if _, err := t.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create quota table: %w", err)
		}
	}
	return nil
}

func (t *SQLTracker) limit(platform types.Platform) int {
	if l, ok := t.limits[platform]; ok && l > 0 {
		return l
	}
	return DefaultDailyLimit
}

func (t *SQLTracker) today() string {
	return DayKey(t.now(), t.loc)
}

// CheckAndReserve atomically admits one launch under the daily limit.
func (t *SQLTracker) CheckAndReserve(ctx context.Context, platform types.Platform) (Reservation, error) {
	day := t.today()
	limit := t.limit(platform)

	var res Reservation
	err := t.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// Ensure a counter row exists for today; the insert is a no-op
		// when another reserver got there first.
		seed := &counterRow{Platform: string(platform), Date: day, Launches: 0, DailyLimit: limit}
		if _, err := tx.NewInsert().Model(seed).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("seed counter: %w", err)
		}

		result, err := tx.NewUpdate().
			Model((*counterRow)(nil)).
			Set("launches = launches + 1").
			Where("platform = ?", string(platform)).
			Where("date = ?", day).
			Where("launches < ?", limit).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("reserve quota: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("reserve quota: %w", err)
		}
		if affected == 0 {
			return &types.QuotaExceededError{Platform: platform, Limit: limit}
		}

		res = Reservation{ID: uuid.NewString(), Platform: platform, Date: day}
		row := &reservationRow{ID: res.ID, Platform: string(platform), Date: day, TakenAt: t.now()}
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("record reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// Rollback returns a reservation taken today. Deleting the reservation
// row and decrementing run in one transaction; a second rollback finds
// no row and is a no-op.
func (t *SQLTracker) Rollback(ctx context.Context, r Reservation) error {
	day := t.today()
	if r.Date != day {
		return nil
	}

	return t.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewDelete().
			Model((*reservationRow)(nil)).
			Where("id = ?", r.ID).
			Where("date = ?", day).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
		if affected == 0 {
			return nil
		}

		if _, err := tx.NewUpdate().
			Model((*counterRow)(nil)).
			Set("launches = launches - 1").
			Where("platform = ?", string(r.Platform)).
			Where("date = ?", day).
			Where("launches > 0").
			Exec(ctx); err != nil {
			return fmt.Errorf("decrement counter: %w", err)
		}
		return nil
	})
}

// Reset zeroes the platform's counter for today.
func (t *SQLTracker) Reset(ctx context.Context, platform types.Platform) error {
	day := t.today()
	return t.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model((*counterRow)(nil)).
			Set("launches = 0").
			Where("platform = ?", string(platform)).
			Where("date = ?", day).
			Exec(ctx); err != nil {
			return fmt.Errorf("reset counter: %w", err)
		}
		if _, err := tx.NewDelete().
			Model((*reservationRow)(nil)).
			Where("platform = ?", string(platform)).
			Where("date = ?", day).
			Exec(ctx); err != nil {
			return fmt.Errorf("clear reservations: %w", err)
		}
		return nil
	})
}

// ResetAll zeroes every platform's counter for today.
func (t *SQLTracker) ResetAll(ctx context.Context) error {
	for _, p := range types.Platforms() {
		if err := t.Reset(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Count returns today's launch count for the platform.
func (t *SQLTracker) Count(ctx context.Context, platform types.Platform) (int, error) {
	var row counterRow
	err := t.db.NewSelect().
		Model(&row).
		Where("platform = ?", string(platform)).
		Where("date = ?", t.today()).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return row.Launches, nil
}
