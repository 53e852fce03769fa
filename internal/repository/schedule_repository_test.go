package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

func TestScheduleRepositoryFindDetail(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db, clock.NewMock(stampedAt))

	now := time.Now()
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, church_id, service_id, sub_service_variant_id, start_date, end_date, slot_capacity, created_at, updated_at FROM schedules WHERE id = $1")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "church_id", "service_id", "sub_service_variant_id", "start_date", "end_date", "slot_capacity", "created_at", "updated_at"}).
			AddRow("sch-1", "church-1", "svc-1", nil, start, nil, 3, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedule_recurrences WHERE schedule_id = $1")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "schedule_id", "recurrence_type", "day_of_week", "week_of_month", "specific_date", "created_at"}).
			AddRow("rec-1", "sch-1", "MONTHLY_NTH", 0, -1, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedule_time_windows WHERE schedule_id = $1 ORDER BY start_time ASC")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "schedule_id", "start_time", "end_time", "created_at"}).
			AddRow("tw-1", "sch-1", "09:00", "10:00", now).
			AddRow("tw-2", "sch-1", "14:00", "15:00", now))

	detail, err := repo.FindDetail(context.Background(), "sch-1")
	require.NoError(t, err)
	assert.Equal(t, 3, detail.SlotCapacity)
	assert.Nil(t, detail.EndDate)
	require.Len(t, detail.Recurrences, 1)
	assert.Equal(t, models.RecurrenceMonthlyNth, detail.Recurrences[0].Type)
	require.NotNil(t, detail.Recurrences[0].WeekOfMonth)
	assert.Equal(t, models.LastWeekOfMonth, *detail.Recurrences[0].WeekOfMonth)
	assert.Len(t, detail.TimeWindows, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db, clock.NewMock(stampedAt))

	mock.ExpectQuery(regexp.QuoteMeta("FROM schedules WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestScheduleRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db, clock.NewMock(stampedAt))

	day := 1
	detail := &models.ScheduleDetail{
		Schedule: models.Schedule{
			ChurchID:     "church-1",
			ServiceID:    "svc-1",
			StartDate:    time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
			SlotCapacity: 2,
		},
		Recurrences: []models.Recurrence{{Type: models.RecurrenceWeekly, DayOfWeek: &day}},
		TimeWindows: []models.TimeWindow{{StartTime: "09:00", EndTime: "10:00"}},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedules")).
		WithArgs(sqlmock.AnyArg(), "church-1", "svc-1", nil, sqlmock.AnyArg(), nil, 2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_recurrences")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "WEEKLY", 1, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_time_windows")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "09:00", "10:00", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), nil, detail))
	assert.NotEmpty(t, detail.ID)
	assert.Equal(t, detail.ID, detail.Recurrences[0].ScheduleID)
	assert.Equal(t, detail.ID, detail.TimeWindows[0].ScheduleID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryReplaceRecurrences(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db, clock.NewMock(stampedAt))

	specific := time.Date(2025, time.June, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedule_recurrences WHERE schedule_id = $1")).
		WithArgs("sch-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_recurrences")).
		WithArgs(sqlmock.AnyArg(), "sch-1", "ONE_TIME", nil, nil, specific, stampedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedules SET updated_at = $2 WHERE id = $1")).
		WithArgs("sch-1", stampedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	recs := []models.Recurrence{{Type: models.RecurrenceOneTime, SpecificDate: &specific}}
	require.NoError(t, repo.ReplaceRecurrences(context.Background(), nil, "sch-1", recs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryDeleteNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db, clock.NewMock(stampedAt))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules WHERE id = $1")).
		WithArgs("sch-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "sch-9")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryHasActiveAppointments(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db, clock.NewMock(stampedAt))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM appointments WHERE schedule_id = $1")).
		WithArgs("sch-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.HasActiveAppointments(context.Background(), "sch-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduleRepositoryDeleteReferenced(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db, clock.NewMock(stampedAt))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM schedules WHERE id = $1")).
		WithArgs("sch-1").
		WillReturnError(&pq.Error{Code: "23503"})

	err := repo.Delete(context.Background(), "sch-1")
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}
