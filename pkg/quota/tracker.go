// Package quota tracks daily launch counters per platform. Reservations
// are taken optimistically before the remote call (atomic
// check-then-increment) and rolled back when the call fails permanently,
// so a failed launch does not burn quota.
package quota

import (
	"context"
	"time"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// Reservation is one admitted launch. Rollback is keyed by the
// reservation id so rolling the same reservation back twice cannot
// double-decrement.
type Reservation struct {
	ID       string
	Platform types.Platform

	// Date is the counter's calendar day (tracker timezone) the
	// reservation was taken on. A reservation from a previous day is
	// ignored by Rollback.
	Date string
}

// Tracker is the daily quota contract.
type Tracker interface {
	// CheckAndReserve atomically checks today's counter for the platform
	// and increments it when below the daily limit. A saturated counter
	// fails with QuotaExceededError and is left untouched.
	CheckAndReserve(ctx context.Context, platform types.Platform) (Reservation, error)

	// Rollback returns a reservation after a permanent remote failure.
	// Idempotent per reservation; unknown or already rolled back
	// reservations are no-ops.
	Rollback(ctx context.Context, r Reservation) error

	// Reset zeroes the platform's counter for today. Idempotent.
	Reset(ctx context.Context, platform types.Platform) error

	// ResetAll zeroes every platform's counter for today. Idempotent.
	ResetAll(ctx context.Context) error

	// Count returns today's launch count for the platform.
	Count(ctx context.Context, platform types.Platform) (int, error)
}

// DefaultDailyLimit applies to platforms without a configured positive
// daily launch limit.
const DefaultDailyLimit = 50

// DayKey formats t as the counter's calendar day in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}
