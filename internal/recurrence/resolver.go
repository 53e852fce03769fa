// Package recurrence expands schedule recurrence rules into calendar dates.
//
// Every function here is pure: no I/O, no clock. Dates are civil dates carried as
// midnight UTC; callers pass inclusive [from, to] bounds and must bound open-ended
// schedules themselves because weekly and monthly rules never terminate.
package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

// Validate checks that rec carries the fields its type requires.
func Validate(rec models.Recurrence) error {
	switch rec.Type {
	case models.RecurrenceWeekly:
		return validateDayOfWeek(rec)
	case models.RecurrenceMonthlyNth:
		if err := validateDayOfWeek(rec); err != nil {
			return err
		}
		if rec.WeekOfMonth == nil {
			return invalid("week_of_month is required for %s", rec.Type)
		}
		w := *rec.WeekOfMonth
		if w != models.LastWeekOfMonth && (w < 1 || w > 5) {
			return invalid("week_of_month must be 1-5 or %d (last), got %d", models.LastWeekOfMonth, w)
		}
		return nil
	case models.RecurrenceOneTime:
		if rec.SpecificDate == nil || rec.SpecificDate.IsZero() {
			return invalid("specific_date is required for %s", rec.Type)
		}
		return nil
	default:
		return invalid("unknown recurrence type %q", rec.Type)
	}
}

func validateDayOfWeek(rec models.Recurrence) error {
	if rec.DayOfWeek == nil {
		return invalid("day_of_week is required for %s", rec.Type)
	}
	if d := *rec.DayOfWeek; d < 0 || d > 6 {
		return invalid("day_of_week must be 0-6, got %d", d)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return appErrors.Clone(appErrors.ErrInvalidRecurrence, fmt.Sprintf(format, args...))
}

// ResolveDates returns the sorted dates in [from, to] matched by rec. Malformed
// rules resolve to nothing; Validate rejects them before they are stored.
func ResolveDates(rec models.Recurrence, from, to time.Time) []time.Time {
	from, to = models.DateOf(from), models.DateOf(to)
	if from.After(to) || Validate(rec) != nil {
		return nil
	}

	switch rec.Type {
	case models.RecurrenceWeekly:
		return weekly(time.Weekday(*rec.DayOfWeek), from, to)
	case models.RecurrenceMonthlyNth:
		return monthlyNth(time.Weekday(*rec.DayOfWeek), *rec.WeekOfMonth, from, to)
	case models.RecurrenceOneTime:
		d := models.DateOf(*rec.SpecificDate)
		if d.Before(from) || d.After(to) {
			return nil
		}
		return []time.Time{d}
	}
	return nil
}

// ResolveAll unions the dates of every rule, de-duplicated and sorted.
func ResolveAll(recs []models.Recurrence, from, to time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	var out []time.Time
	for _, rec := range recs {
		for _, d := range ResolveDates(rec, from, to) {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Matches reports whether any rule produces date.
func Matches(recs []models.Recurrence, date time.Time) bool {
	d := models.DateOf(date)
	for _, rec := range recs {
		if len(ResolveDates(rec, d, d)) > 0 {
			return true
		}
	}
	return false
}

func weekly(day time.Weekday, from, to time.Time) []time.Time {
	offset := (int(day) - int(from.Weekday()) + 7) % 7
	var out []time.Time
	for d := from.AddDate(0, 0, offset); !d.After(to); d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}

func monthlyNth(day time.Weekday, week int, from, to time.Time) []time.Time {
	var out []time.Time
	month := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !month.After(to) {
		if d, ok := NthWeekday(month.Year(), month.Month(), day, week); ok && !d.Before(from) && !d.After(to) {
			out = append(out, d)
		}
		month = month.AddDate(0, 1, 0)
	}
	return out
}

// NthWeekday returns the n-th occurrence of day in the month, or the last one
// when n is LastWeekOfMonth. ok is false when the month has no such occurrence,
// e.g. a fifth Sunday in a four-Sunday month.
func NthWeekday(year int, month time.Month, day time.Weekday, n int) (time.Time, bool) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	firstMatch := first.AddDate(0, 0, (int(day)-int(first.Weekday())+7)%7)

	if n == models.LastWeekOfMonth {
		last := firstMatch
		for next := last.AddDate(0, 0, 7); next.Month() == month; next = next.AddDate(0, 0, 7) {
			last = next
		}
		return last, true
	}
	if n < 1 {
		return time.Time{}, false
	}

	d := firstMatch.AddDate(0, 0, 7*(n-1))
	if d.Month() != month {
		return time.Time{}, false
	}
	return d, true
}
