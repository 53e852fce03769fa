package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/dto"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

type appointmentStoreStub struct {
	mu        sync.Mutex
	items     map[string]models.Appointment
	seq       int
	updateErr error
}

func newAppointmentStoreStub(items ...models.Appointment) *appointmentStoreStub {
	s := &appointmentStoreStub{items: map[string]models.Appointment{}}
	for _, a := range items {
		s.items[a.ID] = a
	}
	return s
}

func (s *appointmentStoreStub) Create(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	appt.ID = fmt.Sprintf("appt-%d", s.seq)
	s.items[appt.ID] = *appt
	return nil
}

func (s *appointmentStoreStub) get(id string) (*models.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (s *appointmentStoreStub) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	return s.get(id)
}

func (s *appointmentStoreStub) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Appointment, error) {
	return s.get(id)
}

func (s *appointmentStoreStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment, from models.AppointmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if cur, ok := s.items[appt.ID]; !ok || cur.Status != from {
		return sql.ErrNoRows
	}
	s.items[appt.ID] = *appt
	return nil
}

func (s *appointmentStoreStub) UpdateSlot(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.items[appt.ID] = *appt
	return nil
}

func (s *appointmentStoreStub) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Appointment, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Appointment
	for _, a := range s.items {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

type notifierStub struct {
	mu     sync.Mutex
	events []models.AppointmentEvent
}

func (n *notifierStub) Notify(ctx context.Context, event models.AppointmentEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type feePolicyStub struct {
	fee   decimal.Decimal
	err   error
	calls int
}

func (f *feePolicyStub) CancellationFee(ctx context.Context, in FeeInput) (decimal.Decimal, error) {
	f.calls++
	return f.fee, f.err
}

var easterSunday = day(2025, time.March, 30)

type appointmentFixture struct {
	svc      *AppointmentService
	appts    *appointmentStoreStub
	slots    *slotStoreStub
	notifier *notifierStub
	fees     *feePolicyStub
	clock    *clock.Mock
	metrics  *MetricsService
}

func newAppointmentFixture(t *testing.T, tx txProvider, capacity int, existing ...models.Appointment) *appointmentFixture {
	t.Helper()
	f := &appointmentFixture{
		appts:    newAppointmentStoreStub(existing...),
		slots:    newSlotStoreStub(),
		notifier: &notifierStub{},
		fees:     &feePolicyStub{fee: decimal.RequireFromString("25.00")},
		clock:    clock.NewMock(time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC)),
		metrics:  NewMetricsService(),
	}
	f.svc = NewAppointmentService(
		f.appts,
		newScheduleStoreStub(sundaySchedule(capacity)),
		f.slots,
		tx,
		NewCancellationPolicy(72*time.Hour, time.UTC),
		f.fees,
		f.notifier,
		nil,
		f.metrics,
		f.clock,
		nil,
		nil,
	)
	return f
}

func confirmedAppointment() models.Appointment {
	return models.Appointment{
		ID:              "appt-x",
		UserID:          "user-1",
		ChurchID:        "church-1",
		ServiceID:       "svc-1",
		ScheduleID:      "sch-1",
		TimeWindowID:    "tw-am",
		AppointmentDate: easterSunday,
		Status:          models.AppointmentConfirmed,
	}
}

func bookRequest(user string) dto.BookAppointmentRequest {
	return dto.BookAppointmentRequest{ScheduleID: "sch-1", TimeWindowID: "tw-am", Date: "2025-03-30", UserID: user}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.AppointmentStatus
		ok       bool
	}{
		{models.AppointmentPending, models.AppointmentConfirmed, true},
		{models.AppointmentPending, models.AppointmentRejected, true},
		{models.AppointmentPending, models.AppointmentCancelled, true},
		{models.AppointmentPending, models.AppointmentCompleted, false},
		{models.AppointmentConfirmed, models.AppointmentCancelled, true},
		{models.AppointmentConfirmed, models.AppointmentCompleted, true},
		{models.AppointmentConfirmed, models.AppointmentRejected, false},
		{models.AppointmentCancelled, models.AppointmentConfirmed, false},
		{models.AppointmentCompleted, models.AppointmentCancelled, false},
		{models.AppointmentRejected, models.AppointmentPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestBookReservesAndCreatesPending(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	f := newAppointmentFixture(t, tx, 2)

	req := bookRequest("user-1")
	req.Notes = strPtr("first communion")
	appt, err := f.svc.Book(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.AppointmentPending, appt.Status)
	assert.Equal(t, "church-1", appt.ChurchID)
	assert.Equal(t, easterSunday, appt.AppointmentDate)
	assert.Equal(t, 1, f.slots.left("tw-am", easterSunday, 2))
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.EventAppointmentBooked, f.notifier.events[0].Type)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.slotReservations.WithLabelValues(ReservationOK)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookRejectsDatesOutsideSchedule(t *testing.T) {
	f := newAppointmentFixture(t, nil, 2)

	req := bookRequest("user-1")
	req.Date = "2025-03-31"
	_, err := f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	req = bookRequest("user-1")
	req.TimeWindowID = "tw-unknown"
	_, err = f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	req = bookRequest("")
	_, err = f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	assert.Zero(t, f.slots.reserves)
}

func TestBookRejectsPastDates(t *testing.T) {
	f := newAppointmentFixture(t, nil, 1)

	past := day(2025, time.January, 5)
	f.slots.set("tw-am", past, 0)
	req := bookRequest("user-1")
	req.Date = "2025-01-05"
	_, err := f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	// a pruned capacity row must not reopen the date
	f.slots.mu.Lock()
	delete(f.slots.remaining, stubKey("tw-am", past))
	f.slots.mu.Unlock()
	_, err = f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	assert.Zero(t, f.slots.reserves)
	assert.Empty(t, f.appts.items)
}

func TestBookAllowsTodayInBookingTimezone(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	f := newAppointmentFixture(t, tx, 1)
	f.svc.policy = NewCancellationPolicy(72*time.Hour, time.FixedZone("PHT", 8*60*60))
	// Saturday 20:00 UTC is already Sunday in the booking timezone
	f.clock.Set(time.Date(2025, time.March, 29, 20, 0, 0, 0, time.UTC))

	appt, err := f.svc.Book(context.Background(), bookRequest("user-1"))
	require.NoError(t, err)
	assert.Equal(t, easterSunday, appt.AppointmentDate)

	f.clock.Set(time.Date(2025, time.March, 30, 16, 30, 0, 0, time.UTC))
	_, err = f.svc.Book(context.Background(), bookRequest("user-2"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookFullSlotReturnsNoCapacity(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	f := newAppointmentFixture(t, tx, 2)
	f.slots.set("tw-am", easterSunday, 0)

	_, err := f.svc.Book(context.Background(), bookRequest("user-1"))
	assert.ErrorIs(t, err, appErrors.ErrNoCapacity)
	assert.Empty(t, f.appts.items)
	assert.Empty(t, f.notifier.events)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.slotReservations.WithLabelValues(ReservationNoCapacity)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConcurrentBookingsNeverOversell(t *testing.T) {
	const (
		capacity = 3
		callers  = 8
	)
	tx, mock := newTxProviderMock(t)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < callers; i++ {
		mock.ExpectBegin()
	}
	for i := 0; i < capacity; i++ {
		mock.ExpectCommit()
	}
	for i := 0; i < callers-capacity; i++ {
		mock.ExpectRollback()
	}
	f := newAppointmentFixture(t, tx, capacity)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		booked     int
		noCapacity int
		other      []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), bookRequest(fmt.Sprintf("user-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, appErrors.ErrNoCapacity):
				noCapacity++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, capacity, booked)
	assert.Equal(t, callers-capacity, noCapacity)
	assert.Equal(t, 0, f.slots.left("tw-am", easterSunday, capacity))
	assert.Len(t, f.appts.items, capacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeStatusConfirm(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	pending := confirmedAppointment()
	pending.Status = models.AppointmentPending
	f := newAppointmentFixture(t, tx, 2, pending)

	appt, err := f.svc.ChangeStatus(context.Background(), "appt-x", models.AppointmentConfirmed, StatusChangeContext{ActorID: "staff-1"})
	require.NoError(t, err)

	assert.Equal(t, models.AppointmentConfirmed, appt.Status)
	assert.Zero(t, f.slots.releases)
	assert.Nil(t, appt.CancellationCategory)
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.AppointmentPending, f.notifier.events[0].From)
	assert.Equal(t, models.AppointmentConfirmed, f.notifier.events[0].To)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeStatusCancelEarlyIsFree(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	f := newAppointmentFixture(t, tx, 2, confirmedAppointment())
	f.slots.set("tw-am", easterSunday, 1)

	reason := "travelling"
	appt, err := f.svc.ChangeStatus(context.Background(), "appt-x", models.AppointmentCancelled, StatusChangeContext{ActorID: "user-1", Reason: &reason})
	require.NoError(t, err)

	assert.Equal(t, models.AppointmentCancelled, appt.Status)
	require.NotNil(t, appt.CancellationCategory)
	assert.Equal(t, models.CancellationNoFee, *appt.CancellationCategory)
	assert.False(t, appt.CancellationFee.Valid)
	require.NotNil(t, appt.CancelledAt)
	assert.Equal(t, "travelling", *appt.StatusReason)
	assert.Zero(t, f.fees.calls)
	assert.Equal(t, 2, f.slots.left("tw-am", easterSunday, 2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeStatusCancelLateCarriesFee(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	f := newAppointmentFixture(t, tx, 2, confirmedAppointment())
	f.clock.Set(time.Date(2025, time.March, 29, 12, 0, 0, 0, time.UTC))

	appt, err := f.svc.ChangeStatus(context.Background(), "appt-x", models.AppointmentCancelled, StatusChangeContext{ActorID: "user-1"})
	require.NoError(t, err)

	require.NotNil(t, appt.CancellationCategory)
	assert.Equal(t, models.CancellationWithFee, *appt.CancellationCategory)
	require.True(t, appt.CancellationFee.Valid)
	assert.Equal(t, "25", appt.CancellationFee.Decimal.String())
	assert.Equal(t, 1, f.fees.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeStatusRejectReleasesSlot(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	pending := confirmedAppointment()
	pending.Status = models.AppointmentPending
	f := newAppointmentFixture(t, tx, 2, pending)
	f.slots.set("tw-am", easterSunday, 1)

	_, err := f.svc.ChangeStatus(context.Background(), "appt-x", models.AppointmentRejected, StatusChangeContext{ActorID: "staff-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.slots.left("tw-am", easterSunday, 2))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.slotReleases))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeStatusInvalidTransition(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	done := confirmedAppointment()
	done.Status = models.AppointmentCompleted
	f := newAppointmentFixture(t, tx, 2, done)

	_, err := f.svc.ChangeStatus(context.Background(), "appt-x", models.AppointmentCancelled, StatusChangeContext{})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.Zero(t, f.slots.releases)
	assert.Empty(t, f.notifier.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeStatusLostRace(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	f := newAppointmentFixture(t, tx, 2, confirmedAppointment())
	f.appts.updateErr = sql.ErrNoRows

	_, err := f.svc.ChangeStatus(context.Background(), "appt-x", models.AppointmentCompleted, StatusChangeContext{})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeStatusNotFound(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	f := newAppointmentFixture(t, tx, 2)

	_, err := f.svc.ChangeStatus(context.Background(), "nope", models.AppointmentConfirmed, StatusChangeContext{})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleMovesCapacity(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	f := newAppointmentFixture(t, tx, 2, confirmedAppointment())
	f.slots.set("tw-am", easterSunday, 1)
	nextSunday := day(2025, time.April, 6)

	appt, err := f.svc.Reschedule(context.Background(), "appt-x", dto.RescheduleRequest{Date: "2025-04-06", TimeWindowID: "tw-pm"})
	require.NoError(t, err)

	assert.Equal(t, "tw-pm", appt.TimeWindowID)
	assert.Equal(t, nextSunday, appt.AppointmentDate)
	assert.Equal(t, 1, appt.RescheduleCount)
	require.NotNil(t, appt.LastRescheduledAt)
	assert.Equal(t, 2, f.slots.left("tw-am", easterSunday, 2))
	assert.Equal(t, 1, f.slots.left("tw-pm", nextSunday, 2))
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, models.EventAppointmentRescheduled, f.notifier.events[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleRejectsPastDates(t *testing.T) {
	f := newAppointmentFixture(t, nil, 2, confirmedAppointment())
	f.slots.set("tw-am", easterSunday, 1)

	_, err := f.svc.Reschedule(context.Background(), "appt-x", dto.RescheduleRequest{Date: "2025-02-23", TimeWindowID: "tw-pm"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	stored, _ := f.appts.get("appt-x")
	assert.Equal(t, easterSunday, stored.AppointmentDate)
	assert.Zero(t, stored.RescheduleCount)
	assert.Equal(t, 1, f.slots.left("tw-am", easterSunday, 2))
	assert.Zero(t, f.slots.reserves)
	assert.Zero(t, f.slots.releases)
}

func TestRescheduleToFullSlotKeepsOriginal(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	f := newAppointmentFixture(t, tx, 2, confirmedAppointment())
	f.slots.set("tw-am", easterSunday, 1)
	f.slots.set("tw-pm", easterSunday, 0)

	_, err := f.svc.Reschedule(context.Background(), "appt-x", dto.RescheduleRequest{Date: "2025-03-30", TimeWindowID: "tw-pm"})
	assert.ErrorIs(t, err, appErrors.ErrNoCapacity)

	stored, _ := f.appts.get("appt-x")
	assert.Equal(t, "tw-am", stored.TimeWindowID)
	assert.Zero(t, stored.RescheduleCount)
	assert.Equal(t, 1, f.slots.left("tw-am", easterSunday, 2))
	assert.Equal(t, 0, f.slots.left("tw-pm", easterSunday, 2))
	assert.Zero(t, f.slots.releases)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleRollbackFailure(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("connection reset"))
	f := newAppointmentFixture(t, tx, 2, confirmedAppointment())
	f.slots.releaseErr = errors.New("release: deadlock detected")

	_, err := f.svc.Reschedule(context.Background(), "appt-x", dto.RescheduleRequest{Date: "2025-04-06", TimeWindowID: "tw-am"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrRollbackFailure)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, f.notifier.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleSameSlotIsNoop(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newAppointmentFixture(t, tx, 2, confirmedAppointment())

	appt, err := f.svc.Reschedule(context.Background(), "appt-x", dto.RescheduleRequest{Date: "2025-03-30", TimeWindowID: "tw-am"})
	require.NoError(t, err)
	assert.Equal(t, "appt-x", appt.ID)
	assert.Zero(t, appt.RescheduleCount)
	assert.Zero(t, f.slots.reserves)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRescheduleRejectsClosedAppointments(t *testing.T) {
	cancelled := confirmedAppointment()
	cancelled.Status = models.AppointmentCancelled
	f := newAppointmentFixture(t, nil, 2, cancelled)

	_, err := f.svc.Reschedule(context.Background(), "appt-x", dto.RescheduleRequest{Date: "2025-04-06", TimeWindowID: "tw-am"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	f = newAppointmentFixture(t, nil, 2, confirmedAppointment())
	_, err = f.svc.Reschedule(context.Background(), "appt-x", dto.RescheduleRequest{Date: "2025-04-07", TimeWindowID: "tw-am"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestListByUserPaginates(t *testing.T) {
	var items []models.Appointment
	for i := 0; i < 5; i++ {
		a := confirmedAppointment()
		a.ID = fmt.Sprintf("appt-%d", i)
		items = append(items, a)
	}
	f := newAppointmentFixture(t, nil, 2, items...)

	got, page, err := f.svc.ListByUser(context.Background(), "user-1", dto.AppointmentListQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, &models.Pagination{Page: 2, PageSize: 2, TotalCount: 5}, page)

	got, page, err = f.svc.ListByUser(context.Background(), "user-2", dto.AppointmentListQuery{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, defaultAppointmentPageSize, page.PageSize)
}
