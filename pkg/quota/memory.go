package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// MemoryTracker is an in-process Tracker. All counter operations run
// under one mutex, which makes check-then-increment atomic; the day
// rollover happens lazily inside the same critical section so it resets
// exactly once.
type MemoryTracker struct {
	mu sync.Mutex

	limits  map[types.Platform]int
	loc     *time.Location
	now     func() time.Time
	day     string
	counts  map[types.Platform]int
	pending map[string]Reservation
}

var _ Tracker = (*MemoryTracker)(nil)

// NewMemoryTracker creates a tracker with the given per-platform daily
// limits, keeping calendar days in loc (nil means local time).
func NewMemoryTracker(limits map[types.Platform]int, loc *time.Location) *MemoryTracker {
	if loc == nil {
		loc = time.Local
	}
	t := &MemoryTracker{
		limits:  limits,
		loc:     loc,
		now:     time.Now,
		counts:  make(map[types.Platform]int),
		pending: make(map[string]Reservation),
	}
	t.day = DayKey(t.now(), loc)
	return t
}

// SetClock overrides the tracker's clock. Test hook.
func (t *MemoryTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// limit returns the platform's configured daily limit, falling back to
// DefaultDailyLimit for platforms without a positive entry.
func (t *MemoryTracker) limit(platform types.Platform) int {
	if l, ok := t.limits[platform]; ok && l > 0 {
		return l
	}
	return DefaultDailyLimit
}

// rollDay resets counters when the calendar day changed. Caller holds
// the mutex.
func (t *MemoryTracker) rollDay() {
	today := DayKey(t.now(), t.loc)
	if today == t.day {
		return
	}
	t.day = today
	t.counts = make(map[types.Platform]int)
	t.pending = make(map[string]Reservation)
}

// CheckAndReserve atomically admits one launch under the daily limit.
func (t *MemoryTracker) CheckAndReserve(_ context.Context, platform types.Platform) (Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay()

	limit := t.limit(platform)
	if t.counts[platform] >= limit {
		return Reservation{}, &types.QuotaExceededError{Platform: platform, Limit: limit}
	}

	t.counts[platform]++
	r := Reservation{ID: uuid.NewString(), Platform: platform, Date: t.day}
	t.pending[r.ID] = r
	return r, nil
}

// Rollback returns a reservation. Only reservations taken today and not
// yet rolled back decrement the counter.
func (t *MemoryTracker) Rollback(_ context.Context, r Reservation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay()

	held, ok := t.pending[r.ID]
	if !ok || held.Date != t.day {
		return nil
	}
	delete(t.pending, r.ID)
	if t.counts[r.Platform] > 0 {
		t.counts[r.Platform]--
	}
	return nil
}

// Reset zeroes the platform's counter for today.
func (t *MemoryTracker) Reset(_ context.Context, platform types.Platform) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay()

	t.counts[platform] = 0
	for id, r := range t.pending {
		if r.Platform == platform {
			delete(t.pending, id)
		}
	}
	return nil
}

// ResetAll zeroes every counter for today.
func (t *MemoryTracker) ResetAll(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay()

	t.counts = make(map[types.Platform]int)
	t.pending = make(map[string]Reservation)
	return nil
}

// Count returns today's launch count for the platform.
func (t *MemoryTracker) Count(_ context.Context, platform types.Platform) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollDay()
	return t.counts[platform], nil
}
