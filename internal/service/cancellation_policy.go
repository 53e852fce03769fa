package service

import (
	"time"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
)

// CancellationPolicy decides whether a cancellation falls inside the free window.
type CancellationPolicy struct {
	freeWindow time.Duration
	loc        *time.Location
}

// NewCancellationPolicy builds a policy. Appointment times are interpreted in loc;
// a nil loc means UTC.
func NewCancellationPolicy(freeWindow time.Duration, loc *time.Location) CancellationPolicy {
	if loc == nil {
		loc = time.UTC
	}
	if freeWindow < 0 {
		freeWindow = 0
	}
	return CancellationPolicy{freeWindow: freeWindow, loc: loc}
}

// Categorize returns no_fee when at least the free window remains before start.
func (p CancellationPolicy) Categorize(start, now time.Time) models.CancellationCategory {
	if start.Sub(now) >= p.freeWindow {
		return models.CancellationNoFee
	}
	return models.CancellationWithFee
}

// AppointmentStart combines a calendar date with an HH:MM window start in the
// policy's location. An unparsable time falls back to the start of the day.
func (p CancellationPolicy) AppointmentStart(date time.Time, windowStart string) time.Time {
	y, m, d := date.Date()
	hm, err := time.Parse("15:04", windowStart)
	if err != nil {
		return time.Date(y, m, d, 0, 0, 0, 0, p.loc)
	}
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, p.loc)
}

// Today returns the calendar date of now in the policy's location.
func (p CancellationPolicy) Today(now time.Time) time.Time {
	if p.loc == nil {
		return models.DateOf(now.UTC())
	}
	return models.DateOf(now.In(p.loc))
}
