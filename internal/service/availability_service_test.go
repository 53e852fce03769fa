package service

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

// slotStoreStub keeps remaining capacity in memory with the same default-to-full
// semantics as the database store.
type slotStoreStub struct {
	mu         sync.Mutex
	remaining  map[string]int
	reserveErr error
	releaseErr error
	listCalls  int
	reserves   int
	releases   int
}

func newSlotStoreStub() *slotStoreStub {
	return &slotStoreStub{remaining: map[string]int{}}
}

func stubKey(windowID string, date time.Time) string {
	return windowID + "|" + date.Format(models.DateLayout)
}

func (s *slotStoreStub) set(windowID string, date time.Time, left int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining[stubKey(windowID, date)] = left
}

func (s *slotStoreStub) left(windowID string, date time.Time, full int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.remaining[stubKey(windowID, date)]; ok {
		return v
	}
	return full
}

func (s *slotStoreStub) GetRemaining(ctx context.Context, exec sqlx.ExtContext, windowID string, date time.Time, full int) (int, error) {
	return s.left(windowID, date, full), nil
}

func (s *slotStoreStub) Reserve(ctx context.Context, exec sqlx.ExtContext, windowID string, date time.Time, full int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return 0, s.reserveErr
	}
	key := stubKey(windowID, date)
	left, ok := s.remaining[key]
	if !ok {
		left = full
	}
	if left <= 0 {
		return 0, appErrors.ErrNoCapacity
	}
	s.remaining[key] = left - 1
	s.reserves++
	return left - 1, nil
}

func (s *slotStoreStub) Release(ctx context.Context, exec sqlx.ExtContext, windowID string, date time.Time, full int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.releases++
	key := stubKey(windowID, date)
	left, ok := s.remaining[key]
	if !ok {
		return nil
	}
	if left+1 < full {
		s.remaining[key] = left + 1
	} else {
		s.remaining[key] = full
	}
	return nil
}

func (s *slotStoreStub) ListRemaining(ctx context.Context, windowIDs []string, from, to time.Time) ([]models.DateSlotCapacity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	wanted := map[string]bool{}
	for _, id := range windowIDs {
		wanted[id] = true
	}
	var out []models.DateSlotCapacity
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		for id := range wanted {
			if v, ok := s.remaining[stubKey(id, d)]; ok {
				out = append(out, models.DateSlotCapacity{TimeWindowID: id, SlotDate: d, RemainingSlots: v})
			}
		}
	}
	return out, nil
}

type memoryCacheRepo struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = raw
	m.ttls[key] = ttl
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.data {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.data, key)
		}
	}
	return nil
}

func collect(t *testing.T, svc *AvailabilityService, from, to time.Time) []models.OpenSlot {
	t.Helper()
	seq, err := svc.OpenSlots(context.Background(), "sch-1", from, to)
	require.NoError(t, err)
	var out []models.OpenSlot
	for slot, err := range seq {
		require.NoError(t, err)
		out = append(out, slot)
	}
	return out
}

func TestOpenSlotsOrderedByDateThenStartTime(t *testing.T) {
	slots := newSlotStoreStub()
	slots.set("tw-am", day(2025, time.March, 9), 0)
	slots.set("tw-pm", day(2025, time.March, 16), 1)
	svc := NewAvailabilityService(newScheduleStoreStub(sundaySchedule(2)), slots, nil, 0, nil)

	got := collect(t, svc, day(2025, time.March, 1), day(2025, time.March, 16))

	type pair struct {
		date   string
		window string
		left   int
	}
	var pairs []pair
	for _, s := range got {
		pairs = append(pairs, pair{s.Date.Format(models.DateLayout), s.TimeWindowID, s.Remaining})
	}
	assert.Equal(t, []pair{
		{"2025-03-02", "tw-am", 2},
		{"2025-03-02", "tw-pm", 2},
		{"2025-03-09", "tw-pm", 2},
		{"2025-03-16", "tw-am", 2},
		{"2025-03-16", "tw-pm", 1},
	}, pairs)
	assert.Equal(t, "09:00", got[0].StartTime)
	assert.Equal(t, "10:00", got[0].EndTime)
}

func TestOpenSlotsIsLazyAndStopsEarly(t *testing.T) {
	slots := newSlotStoreStub()
	svc := NewAvailabilityService(newScheduleStoreStub(sundaySchedule(2)), slots, nil, 0, nil)

	seq, err := svc.OpenSlots(context.Background(), "sch-1", day(2025, time.January, 1), day(2025, time.March, 31))
	require.NoError(t, err)
	assert.Zero(t, slots.listCalls)

	var first models.OpenSlot
	for slot, err := range seq {
		require.NoError(t, err)
		first = slot
		break
	}
	assert.Equal(t, day(2025, time.January, 5), first.Date)
	assert.Equal(t, "tw-am", first.TimeWindowID)
	assert.Equal(t, 1, slots.listCalls)
}

func TestOpenSlotsRestartReadsCurrentCapacity(t *testing.T) {
	slots := newSlotStoreStub()
	svc := NewAvailabilityService(newScheduleStoreStub(sundaySchedule(1)), slots, nil, 0, nil)

	seq, err := svc.OpenSlots(context.Background(), "sch-1", day(2025, time.March, 1), day(2025, time.March, 16))
	require.NoError(t, err)

	count := func() int {
		n := 0
		for _, err := range seq {
			require.NoError(t, err)
			n++
		}
		return n
	}
	assert.Equal(t, 6, count())

	slots.set("tw-am", day(2025, time.March, 2), 0)
	assert.Equal(t, 5, count())
}

func TestOpenSlotsReadsCapacityInPages(t *testing.T) {
	slots := newSlotStoreStub()
	svc := NewAvailabilityService(newScheduleStoreStub(sundaySchedule(3)), slots, nil, 92, nil)

	got := collect(t, svc, day(2025, time.January, 1), day(2025, time.April, 2))
	assert.Len(t, got, 26)
	assert.Equal(t, 3, slots.listCalls)
}

func TestOpenSlotsRangeBounds(t *testing.T) {
	svc := NewAvailabilityService(newScheduleStoreStub(sundaySchedule(3)), newSlotStoreStub(), nil, 92, nil)

	_, err := svc.OpenSlots(context.Background(), "sch-1", day(2025, time.January, 1), day(2025, time.April, 3))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.OpenSlots(context.Background(), "sch-1", day(2025, time.March, 2), day(2025, time.March, 1))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.OpenSlots(context.Background(), "missing", day(2025, time.March, 1), day(2025, time.March, 2))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestOpenSlotsClampedToValidity(t *testing.T) {
	detail := sundaySchedule(2)
	end := day(2025, time.March, 10)
	detail.EndDate = &end
	svc := NewAvailabilityService(newScheduleStoreStub(detail), newSlotStoreStub(), nil, 0, nil)

	got := collect(t, svc, day(2025, time.March, 1), day(2025, time.March, 31))
	require.Len(t, got, 4)
	assert.Equal(t, day(2025, time.March, 9), got[3].Date)

	// entirely before the schedule starts
	assert.Empty(t, collect(t, svc, day(2024, time.December, 1), day(2024, time.December, 31)))
}

func TestIsAvailable(t *testing.T) {
	slots := newSlotStoreStub()
	slots.set("tw-pm", day(2025, time.March, 30), 0)
	svc := NewAvailabilityService(newScheduleStoreStub(sundaySchedule(2)), slots, nil, 0, nil)
	ctx := context.Background()

	ok, err := svc.IsAvailable(ctx, "sch-1", day(2025, time.March, 30), "tw-am")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsAvailable(ctx, "sch-1", day(2025, time.March, 30), "tw-pm")
	require.NoError(t, err)
	assert.False(t, ok)

	// a Monday is not a scheduled date
	ok, err = svc.IsAvailable(ctx, "sch-1", day(2025, time.March, 31), "tw-am")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.IsAvailable(ctx, "sch-1", day(2025, time.March, 30), "tw-other")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestListOpenSlotsUsesCache(t *testing.T) {
	slots := newSlotStoreStub()
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := NewAvailabilityService(newScheduleStoreStub(sundaySchedule(2)), slots, cache, 0, nil)
	ctx := context.Background()
	from, to := day(2025, time.March, 1), day(2025, time.March, 16)

	first, hit, err := svc.ListOpenSlots(ctx, "sch-1", from, to)
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, first, 6)

	second, hit, err := svc.ListOpenSlots(ctx, "sch-1", from, to)
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, second, 6)
	assert.True(t, first[5].Date.Equal(second[5].Date))
	assert.Equal(t, first[5].TimeWindowID, second[5].TimeWindowID)
	assert.Equal(t, 1, slots.listCalls)

	cache.Invalidate(ctx, openSlotsCachePattern("sch-1"))
	_, hit, err = svc.ListOpenSlots(ctx, "sch-1", from, to)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestListOpenSlotsCapsCacheTTL(t *testing.T) {
	ctx := context.Background()
	from, to := day(2025, time.March, 1), day(2025, time.March, 16)
	key := openSlotsCacheKey("sch-1", from, to)

	repo := newMemoryCacheRepo()
	svc := NewAvailabilityService(newScheduleStoreStub(sundaySchedule(2)), newSlotStoreStub(), NewCacheService(repo, nil, 10*time.Minute, nil, true), 0, nil)
	_, _, err := svc.ListOpenSlots(ctx, "sch-1", from, to)
	require.NoError(t, err)
	assert.Equal(t, maxOpenSlotsCacheTTL, repo.ttls[key])

	repo = newMemoryCacheRepo()
	svc = NewAvailabilityService(newScheduleStoreStub(sundaySchedule(2)), newSlotStoreStub(), NewCacheService(repo, nil, 5*time.Second, nil, true), 0, nil)
	_, _, err = svc.ListOpenSlots(ctx, "sch-1", from, to)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, repo.ttls[key])
}
