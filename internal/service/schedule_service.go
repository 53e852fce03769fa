package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/dto"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/recurrence"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type scheduleStore interface {
	FindDetail(ctx context.Context, id string) (*models.ScheduleDetail, error)
	Create(ctx context.Context, exec sqlx.ExtContext, detail *models.ScheduleDetail) error
	ReplaceRecurrences(ctx context.Context, exec sqlx.ExtContext, scheduleID string, recs []models.Recurrence) error
	Delete(ctx context.Context, id string) error
	HasActiveAppointments(ctx context.Context, id string) (bool, error)
}

// ScheduleService manages schedule definitions.
type ScheduleService struct {
	repo      scheduleStore
	tx        txProvider
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService builds a ScheduleService with sane defaults.
func NewScheduleService(repo scheduleStore, tx txProvider, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, tx: tx, cache: cache, validator: validate, logger: logger}
}

// Create validates and stores a schedule with its rules and windows in one transaction.
func (s *ScheduleService) Create(ctx context.Context, req dto.CreateScheduleRequest) (*models.ScheduleDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}

	start, err := models.ParseDate(req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid startDate")
	}
	var end *time.Time
	if req.EndDate != nil {
		parsed, err := models.ParseDate(*req.EndDate)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid endDate")
		}
		if parsed.Before(start) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "endDate must not be before startDate")
		}
		end = &parsed
	}

	recs, err := toRecurrences(req.Recurrences)
	if err != nil {
		return nil, err
	}
	windows, err := toTimeWindows(req.TimeWindows)
	if err != nil {
		return nil, err
	}

	detail := &models.ScheduleDetail{
		Schedule: models.Schedule{
			ChurchID:            req.ChurchID,
			ServiceID:           req.ServiceID,
			SubServiceVariantID: req.SubServiceVariantID,
			StartDate:           start,
			EndDate:             end,
			SlotCapacity:        req.SlotCapacity,
		},
		Recurrences: recs,
		TimeWindows: windows,
	}

	if err := s.inTx(ctx, "create schedule", func(tx *sqlx.Tx) error {
		return s.repo.Create(ctx, tx, detail)
	}); err != nil {
		return nil, err
	}
	s.logger.Info("schedule created",
		zap.String("schedule_id", detail.ID),
		zap.String("church_id", detail.ChurchID),
		zap.Int("recurrences", len(recs)),
		zap.Int("time_windows", len(windows)))
	return detail, nil
}

// Get returns a schedule with its recurrences and time windows.
func (s *ScheduleService) Get(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	detail, err := s.repo.FindDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return detail, nil
}

// ReplaceRecurrences swaps every rule of the schedule.
func (s *ScheduleService) ReplaceRecurrences(ctx context.Context, id string, req dto.ReplaceRecurrencesRequest) (*models.ScheduleDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid recurrence payload")
	}
	recs, err := toRecurrences(req.Recurrences)
	if err != nil {
		return nil, err
	}
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.inTx(ctx, "replace recurrences", func(tx *sqlx.Tx) error {
		return s.repo.ReplaceRecurrences(ctx, tx, id, recs)
	}); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, openSlotsCachePattern(id))

	detail.Recurrences = recs
	return detail, nil
}

// Delete removes a schedule that no longer holds active bookings.
func (s *ScheduleService) Delete(ctx context.Context, id string) error {
	active, err := s.repo.HasActiveAppointments(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect schedule appointments")
	}
	if active {
		return appErrors.Clone(appErrors.ErrConflict, "schedule has pending or confirmed appointments")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule")
	}
	s.cache.Invalidate(ctx, openSlotsCachePattern(id))
	s.logger.Info("schedule deleted", zap.String("schedule_id", id))
	return nil
}

func (s *ScheduleService) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) (err error) {
	if s.tx == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+op)
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit "+op)
	}
	return nil
}

func toRecurrences(reqs []dto.RecurrenceRequest) ([]models.Recurrence, error) {
	recs := make([]models.Recurrence, 0, len(reqs))
	for i, r := range reqs {
		rec := models.Recurrence{
			Type:        models.RecurrenceType(r.Type),
			DayOfWeek:   r.DayOfWeek,
			WeekOfMonth: r.WeekOfMonth,
		}
		if r.SpecificDate != nil {
			d, err := models.ParseDate(*r.SpecificDate)
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrInvalidRecurrence, fmt.Sprintf("recurrence %d: invalid specificDate", i))
			}
			rec.SpecificDate = &d
		}
		if err := recurrence.Validate(rec); err != nil {
			return nil, appErrors.Clone(appErrors.ErrInvalidRecurrence, fmt.Sprintf("recurrence %d: %s", i, appErrors.FromError(err).Message))
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func toTimeWindows(reqs []dto.TimeWindowRequest) ([]models.TimeWindow, error) {
	windows := make([]models.TimeWindow, 0, len(reqs))
	for i, w := range reqs {
		start, errStart := time.Parse("15:04", w.StartTime)
		end, errEnd := time.Parse("15:04", w.EndTime)
		if errStart != nil || errEnd != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time window %d: times must be HH:MM", i))
		}
		if !start.Before(end) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time window %d: start must be before end", i))
		}
		windows = append(windows, models.TimeWindow{StartTime: w.StartTime, EndTime: w.EndTime})
	}
	return windows, nil
}
