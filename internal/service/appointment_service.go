package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/dto"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

const (
	defaultAppointmentPageSize = 20
	maxAppointmentPageSize     = 100
)

type appointmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Appointment, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment, from models.AppointmentStatus) error
	UpdateSlot(ctx context.Context, exec sqlx.ExtContext, appt *models.Appointment) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Appointment, int, error)
}

type slotStore interface {
	Reserve(ctx context.Context, exec sqlx.ExtContext, timeWindowID string, date time.Time, fullCapacity int) (int, error)
	Release(ctx context.Context, exec sqlx.ExtContext, timeWindowID string, date time.Time, fullCapacity int) error
}

// allowedTransitions lists every status change the lifecycle accepts.
var allowedTransitions = map[models.AppointmentStatus][]models.AppointmentStatus{
	models.AppointmentPending:   {models.AppointmentConfirmed, models.AppointmentRejected, models.AppointmentCancelled},
	models.AppointmentConfirmed: {models.AppointmentCancelled, models.AppointmentCompleted},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to models.AppointmentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// releasesSlot reports whether entering to gives the held slot back. A completed
// appointment keeps its slot consumed.
func releasesSlot(to models.AppointmentStatus) bool {
	return to == models.AppointmentRejected || to == models.AppointmentCancelled
}

// StatusChangeContext carries who asked for a transition and why.
type StatusChangeContext struct {
	ActorID string
	Reason  *string
}

// AppointmentService drives the appointment state machine and keeps slot
// capacity in step with it.
type AppointmentService struct {
	appointments appointmentStore
	schedules    scheduleDetailReader
	slots        slotStore
	tx           txProvider
	policy       CancellationPolicy
	fees         FeePolicy
	notifier     Notifier
	cache        *CacheService
	metrics      *MetricsService
	clock        clock.Clock
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewAppointmentService wires the lifecycle. fees, notifier, cache and metrics
// are optional.
func NewAppointmentService(
	appointments appointmentStore,
	schedules scheduleDetailReader,
	slots slotStore,
	tx txProvider,
	policy CancellationPolicy,
	fees FeePolicy,
	notifier Notifier,
	cache *CacheService,
	metrics *MetricsService,
	clk clock.Clock,
	validate *validator.Validate,
	logger *zap.Logger,
) *AppointmentService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if clk == nil {
		clk = clock.System()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentService{
		appointments: appointments,
		schedules:    schedules,
		slots:        slots,
		tx:           tx,
		policy:       policy,
		fees:         fees,
		notifier:     notifier,
		cache:        cache,
		metrics:      metrics,
		clock:        clk,
		validator:    validate,
		logger:       logger,
	}
}

// Book reserves one slot and records a Pending appointment in the same
// transaction. A full slot yields ErrNoCapacity; the caller re-queries and retries.
func (s *AppointmentService) Book(ctx context.Context, req dto.BookAppointmentRequest) (*models.Appointment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date")
	}
	detail, err := s.loadSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	if err := checkBookable(detail, req.TimeWindowID, date, s.policy.Today(s.clock.Now())); err != nil {
		return nil, err
	}

	appt := &models.Appointment{
		UserID:          req.UserID,
		ChurchID:        detail.ChurchID,
		ServiceID:       detail.ServiceID,
		ScheduleID:      detail.ID,
		TimeWindowID:    req.TimeWindowID,
		AppointmentDate: date,
		Status:          models.AppointmentPending,
		Notes:           req.Notes,
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.slots.Reserve(ctx, tx, req.TimeWindowID, date, detail.SlotCapacity); err != nil {
		_ = tx.Rollback()
		return nil, s.reserveFailed(err)
	}
	if err := s.appointments.Create(ctx, tx, appt); err != nil {
		_ = tx.Rollback()
		s.metrics.RecordReservation(ReservationError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create appointment")
	}
	if err := tx.Commit(); err != nil {
		s.metrics.RecordReservation(ReservationError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit booking")
	}

	s.metrics.RecordReservation(ReservationOK)
	s.cache.Invalidate(ctx, openSlotsCachePattern(detail.ID))
	s.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID),
		zap.String("schedule_id", appt.ScheduleID),
		zap.String("time_window_id", appt.TimeWindowID),
		zap.String("date", date.Format(models.DateLayout)),
		zap.String("user_id", appt.UserID))
	s.notifier.Notify(ctx, s.event(models.EventAppointmentBooked, appt, ""))
	return appt, nil
}

// ChangeStatus applies a lifecycle transition. Leaving Pending or Confirmed for
// Rejected or Cancelled gives the slot back; cancellations also record the fee
// category and, for with_fee, the amount from the fee policy.
func (s *AppointmentService) ChangeStatus(ctx context.Context, id string, to models.AppointmentStatus, sc StatusChangeContext) (appt *models.Appointment, err error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	appt, err = s.appointments.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, notFoundOr(err, "appointment not found", "failed to load appointment")
	}
	from := appt.Status
	if !CanTransition(from, to) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot change appointment from %s to %s", from, to))
	}

	detail, err := s.loadSchedule(ctx, appt.ScheduleID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if to == models.AppointmentCancelled {
		if err = s.applyCancellation(ctx, appt, detail, now); err != nil {
			return nil, err
		}
	}

	released := releasesSlot(to)
	if released {
		if err = s.slots.Release(ctx, tx, appt.TimeWindowID, appt.AppointmentDate, detail.SlotCapacity); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release slot")
		}
	}

	appt.Status = to
	appt.StatusReason = sc.Reason
	if err = s.appointments.UpdateStatus(ctx, tx, appt, from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "appointment status changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update appointment status")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit status change")
	}

	s.metrics.RecordTransition(from, to)
	if released {
		s.metrics.RecordRelease()
		s.cache.Invalidate(ctx, openSlotsCachePattern(appt.ScheduleID))
	}
	fields := []zap.Field{
		zap.String("appointment_id", appt.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", sc.ActorID),
	}
	if appt.CancellationCategory != nil {
		fields = append(fields, zap.String("cancellation_category", string(*appt.CancellationCategory)))
	}
	s.logger.Info("appointment status changed", fields...)
	s.notifier.Notify(ctx, s.event(models.EventAppointmentStatus, appt, from))
	return appt, nil
}

func (s *AppointmentService) applyCancellation(ctx context.Context, appt *models.Appointment, detail *models.ScheduleDetail, now time.Time) error {
	start := s.policy.AppointmentStart(appt.AppointmentDate, "")
	if w, ok := detail.Window(appt.TimeWindowID); ok {
		start = s.policy.AppointmentStart(appt.AppointmentDate, w.StartTime)
	}
	category := s.policy.Categorize(start, now)
	appt.CancellationCategory = &category
	appt.CancelledAt = &now
	appt.CancellationFee = decimal.NullDecimal{}

	if category != models.CancellationWithFee || s.fees == nil {
		return nil
	}
	fee, err := s.fees.CancellationFee(ctx, FeeInput{
		ChurchID:         appt.ChurchID,
		ServiceID:        appt.ServiceID,
		AppointmentStart: start,
		Now:              now,
		Category:         category,
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute cancellation fee")
	}
	appt.CancellationFee = decimal.NewNullDecimal(fee)
	return nil
}

// Reschedule moves an active appointment to another slot of its schedule. The
// new slot is reserved before the old one is released, all in one transaction,
// so a failure at any step leaves the appointment holding exactly its original
// slot. Moving to the slot it already holds is a no-op.
func (s *AppointmentService) Reschedule(ctx context.Context, id string, req dto.RescheduleRequest) (*models.Appointment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date")
	}

	current, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "appointment not found", "failed to load appointment")
	}
	if !current.Status.HoldsSlot() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot reschedule a %s appointment", current.Status))
	}
	if sameSlot(current, req.TimeWindowID, date) {
		return current, nil
	}

	detail, err := s.loadSchedule(ctx, current.ScheduleID)
	if err != nil {
		return nil, err
	}
	if err := checkBookable(detail, req.TimeWindowID, date, s.policy.Today(s.clock.Now())); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	appt, err := s.moveSlot(ctx, tx, id, req.TimeWindowID, date, detail)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("reschedule rollback failed, slot capacity may be inconsistent",
				zap.String("appointment_id", id),
				zap.String("time_window_id", req.TimeWindowID),
				zap.String("date", date.Format(models.DateLayout)),
				zap.NamedError("cause", err),
				zap.Error(rbErr))
			return nil, appErrors.WrapAs(appErrors.ErrRollbackFailure, errors.Join(err, rbErr), "")
		}
		return nil, err
	}
	if appt == nil {
		// the row moved to this slot concurrently
		_ = tx.Rollback()
		return s.Get(ctx, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reschedule")
	}

	s.metrics.RecordReservation(ReservationOK)
	s.metrics.RecordRelease()
	s.cache.Invalidate(ctx, openSlotsCachePattern(detail.ID))
	s.logger.Info("appointment rescheduled",
		zap.String("appointment_id", appt.ID),
		zap.String("time_window_id", appt.TimeWindowID),
		zap.String("date", appt.AppointmentDate.Format(models.DateLayout)),
		zap.Int("reschedule_count", appt.RescheduleCount))
	s.notifier.Notify(ctx, s.event(models.EventAppointmentRescheduled, appt, appt.Status))
	return appt, nil
}

// moveSlot runs the reschedule steps inside tx. A nil appointment with a nil
// error means the locked row already sits on the target slot.
func (s *AppointmentService) moveSlot(ctx context.Context, tx *sqlx.Tx, id, windowID string, date time.Time, detail *models.ScheduleDetail) (*models.Appointment, error) {
	appt, err := s.appointments.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, notFoundOr(err, "appointment not found", "failed to load appointment")
	}
	if !appt.Status.HoldsSlot() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot reschedule a %s appointment", appt.Status))
	}
	if sameSlot(appt, windowID, date) {
		return nil, nil
	}

	if _, err := s.slots.Reserve(ctx, tx, windowID, date, detail.SlotCapacity); err != nil {
		return nil, s.reserveFailed(err)
	}
	if err := s.slots.Release(ctx, tx, appt.TimeWindowID, appt.AppointmentDate, detail.SlotCapacity); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release previous slot")
	}

	now := s.clock.Now()
	appt.TimeWindowID = windowID
	appt.AppointmentDate = date
	appt.RescheduleCount++
	appt.LastRescheduledAt = &now
	if err := s.appointments.UpdateSlot(ctx, tx, appt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "appointment status changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update appointment slot")
	}
	return appt, nil
}

// Get returns one appointment.
func (s *AppointmentService) Get(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := s.appointments.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "appointment not found", "failed to load appointment")
	}
	return appt, nil
}

// ListByUser pages a member's appointments, newest date first.
func (s *AppointmentService) ListByUser(ctx context.Context, userID string, query dto.AppointmentListQuery) ([]models.Appointment, *models.Pagination, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	size := query.PageSize
	if size <= 0 {
		size = defaultAppointmentPageSize
	}
	if size > maxAppointmentPageSize {
		size = maxAppointmentPageSize
	}
	items, total, err := s.appointments.ListByUser(ctx, userID, size, (page-1)*size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appointments")
	}
	if items == nil {
		items = []models.Appointment{}
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *AppointmentService) begin(ctx context.Context) (*sqlx.Tx, error) {
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	return tx, nil
}

func (s *AppointmentService) reserveFailed(err error) error {
	if errors.Is(err, appErrors.ErrNoCapacity) {
		s.metrics.RecordReservation(ReservationNoCapacity)
		return appErrors.ErrNoCapacity
	}
	s.metrics.RecordReservation(ReservationError)
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve slot")
}

func (s *AppointmentService) loadSchedule(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	detail, err := s.schedules.FindDetail(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "schedule not found", "failed to load schedule")
	}
	return detail, nil
}

func (s *AppointmentService) event(kind string, appt *models.Appointment, from models.AppointmentStatus) models.AppointmentEvent {
	return models.AppointmentEvent{
		Type:          kind,
		AppointmentID: appt.ID,
		UserID:        appt.UserID,
		ChurchID:      appt.ChurchID,
		From:          from,
		To:            appt.Status,
		Date:          appt.AppointmentDate.Format(models.DateLayout),
		TimeWindowID:  appt.TimeWindowID,
		OccurredAt:    s.clock.Now(),
	}
}

// checkBookable rejects windows outside the schedule, dates before today and
// dates the schedule does not run on. Capacity rows for past dates may already
// be pruned, so a past date can never be reserved again.
func checkBookable(detail *models.ScheduleDetail, windowID string, date, today time.Time) error {
	if _, ok := detail.Window(windowID); !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "time window not found for schedule")
	}
	if models.DateOf(date).Before(today) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is in the past", date.Format(models.DateLayout)))
	}
	if !scheduledOn(detail, date) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("schedule does not run on %s", date.Format(models.DateLayout)))
	}
	return nil
}

func sameSlot(appt *models.Appointment, windowID string, date time.Time) bool {
	return appt.TimeWindowID == windowID && models.DateOf(appt.AppointmentDate).Equal(models.DateOf(date))
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
