package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/recurrence"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

const (
	defaultMaxRangeDays = 92
	// capacityPageDays is how many days of capacity rows one lookup loads while
	// an open-slot sequence is being consumed.
	capacityPageDays = 31
	// maxOpenSlotsCacheTTL bounds how long a listing computed just before a
	// reservation committed can outlive the invalidation that followed it.
	maxOpenSlotsCacheTTL = 30 * time.Second
)

type scheduleDetailReader interface {
	FindDetail(ctx context.Context, id string) (*models.ScheduleDetail, error)
}

type capacityReader interface {
	GetRemaining(ctx context.Context, exec sqlx.ExtContext, timeWindowID string, date time.Time, fullCapacity int) (int, error)
	ListRemaining(ctx context.Context, timeWindowIDs []string, from, to time.Time) ([]models.DateSlotCapacity, error)
}

// AvailabilityService answers availability questions by combining recurrence
// rules with stored slot capacity.
type AvailabilityService struct {
	schedules    scheduleDetailReader
	capacity     capacityReader
	cache        *CacheService
	maxRangeDays int
	logger       *zap.Logger
}

// NewAvailabilityService builds the service. maxRangeDays bounds every listing;
// values <= 0 fall back to 92 days.
func NewAvailabilityService(schedules scheduleDetailReader, capacity capacityReader, cache *CacheService, maxRangeDays int, logger *zap.Logger) *AvailabilityService {
	if maxRangeDays <= 0 {
		maxRangeDays = defaultMaxRangeDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{schedules: schedules, capacity: capacity, cache: cache, maxRangeDays: maxRangeDays, logger: logger}
}

// IsAvailable reports whether date is a scheduled date for the schedule and the
// window still has capacity on it.
func (s *AvailabilityService) IsAvailable(ctx context.Context, scheduleID string, date time.Time, timeWindowID string) (bool, error) {
	detail, err := s.loadSchedule(ctx, scheduleID)
	if err != nil {
		return false, err
	}
	if _, ok := detail.Window(timeWindowID); !ok {
		return false, appErrors.Clone(appErrors.ErrNotFound, "time window not found for schedule")
	}
	if !scheduledOn(detail, date) {
		return false, nil
	}
	remaining, err := s.capacity.GetRemaining(ctx, nil, timeWindowID, date, detail.SlotCapacity)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read slot capacity")
	}
	return remaining > 0, nil
}

// OpenSlots returns a lazy sequence of open slots in [from, to] ordered by date
// then window start time. Nothing is read until the sequence is ranged over and
// every range re-reads current capacity, so the sequence can be consumed again.
// The range is clamped to the schedule's validity window.
func (s *AvailabilityService) OpenSlots(ctx context.Context, scheduleID string, from, to time.Time) (iter.Seq2[models.OpenSlot, error], error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if err := s.checkRange(from, to); err != nil {
		return nil, err
	}
	detail, err := s.loadSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	windows := append([]models.TimeWindow(nil), detail.TimeWindows...)
	sort.SliceStable(windows, func(i, j int) bool { return windows[i].StartTime < windows[j].StartTime })
	windowIDs := make([]string, len(windows))
	for i, w := range windows {
		windowIDs[i] = w.ID
	}

	from, to, ok := detail.Clamp(from, to)
	return func(yield func(models.OpenSlot, error) bool) {
		if !ok || len(windows) == 0 {
			return
		}
		dates := recurrence.ResolveAll(detail.Recurrences, from, to)
		for len(dates) > 0 {
			page := pageOf(dates)
			dates = dates[len(page):]

			remaining, err := s.remainingFor(ctx, windowIDs, page[0], page[len(page)-1])
			if err != nil {
				yield(models.OpenSlot{}, err)
				return
			}
			for _, d := range page {
				for _, w := range windows {
					left, stored := remaining[slotKey{w.ID, d}]
					if !stored {
						left = detail.SlotCapacity
					}
					if left <= 0 {
						continue
					}
					slot := models.OpenSlot{Date: d, TimeWindowID: w.ID, StartTime: w.StartTime, EndTime: w.EndTime, Remaining: left}
					if !yield(slot, nil) {
						return
					}
				}
			}
		}
	}, nil
}

// ListOpenSlots collects OpenSlots, serving from cache when enabled. The second
// return value reports a cache hit. Cached listings are advisory only: Book
// still reserves atomically, and entries expire within maxOpenSlotsCacheTTL.
func (s *AvailabilityService) ListOpenSlots(ctx context.Context, scheduleID string, from, to time.Time) ([]models.OpenSlot, bool, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	key := openSlotsCacheKey(scheduleID, from, to)
	var cached []models.OpenSlot
	if s.cache.Get(ctx, key, &cached) {
		return cached, true, nil
	}

	seq, err := s.OpenSlots(ctx, scheduleID, from, to)
	if err != nil {
		return nil, false, err
	}
	slots := make([]models.OpenSlot, 0)
	for slot, err := range seq {
		if err != nil {
			return nil, false, err
		}
		slots = append(slots, slot)
	}
	s.cache.Set(ctx, key, slots, s.cache.TTLUpTo(maxOpenSlotsCacheTTL))
	return slots, false, nil
}

func (s *AvailabilityService) checkRange(from, to time.Time) error {
	if from.After(to) {
		return appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	if days := int(to.Sub(from).Hours()/24) + 1; days > s.maxRangeDays {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("date range spans %d days, maximum is %d", days, s.maxRangeDays))
	}
	return nil
}

func (s *AvailabilityService) loadSchedule(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	detail, err := s.schedules.FindDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return detail, nil
}

type slotKey struct {
	windowID string
	date     time.Time
}

func (s *AvailabilityService) remainingFor(ctx context.Context, windowIDs []string, from, to time.Time) (map[slotKey]int, error) {
	rows, err := s.capacity.ListRemaining(ctx, windowIDs, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read slot capacity")
	}
	out := make(map[slotKey]int, len(rows))
	for _, r := range rows {
		out[slotKey{r.TimeWindowID, models.DateOf(r.SlotDate)}] = r.RemainingSlots
	}
	return out, nil
}

// pageOf returns the leading dates that fall within capacityPageDays of the first.
func pageOf(dates []time.Time) []time.Time {
	limit := dates[0].AddDate(0, 0, capacityPageDays)
	n := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(limit) })
	return dates[:n]
}

// scheduledOn reports whether the schedule's rules and validity window include date.
func scheduledOn(detail *models.ScheduleDetail, date time.Time) bool {
	return detail.Covers(date) && recurrence.Matches(detail.Recurrences, date)
}

func openSlotsCacheKey(scheduleID string, from, to time.Time) string {
	return fmt.Sprintf("slots:%s:%s:%s", scheduleID, from.Format(models.DateLayout), to.Format(models.DateLayout))
}

func openSlotsCachePattern(scheduleID string) string {
	return "slots:" + scheduleID + ":*"
}
