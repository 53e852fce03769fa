package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

type slotPruner interface {
	DeleteBefore(ctx context.Context, date time.Time) (int64, error)
}

// SlotHousekeeper drops capacity rows for dates long past.
type SlotHousekeeper struct {
	store     slotPruner
	retention int
	clock     clock.Clock
	logger    *zap.Logger
}

// minRetentionDays keeps yesterday's rows: the booking timezone may still be
// on that date when UTC has moved on.
const minRetentionDays = 1

// NewSlotHousekeeper keeps retentionDays of history, at least one day.
func NewSlotHousekeeper(store slotPruner, retentionDays int, clk clock.Clock, logger *zap.Logger) *SlotHousekeeper {
	if retentionDays < minRetentionDays {
		retentionDays = minRetentionDays
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotHousekeeper{store: store, retention: retentionDays, clock: clk, logger: logger}
}

// Cutoff is the first date whose rows are kept.
func (h *SlotHousekeeper) Cutoff() time.Time {
	return models.DateOf(h.clock.Now()).AddDate(0, 0, -h.retention)
}

// Tick implements jobs.TickFunc.
func (h *SlotHousekeeper) Tick(ctx context.Context) error {
	cutoff := h.Cutoff()
	removed, err := h.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prune slot capacities")
	}
	if removed > 0 {
		h.logger.Info("pruned slot capacities", zap.String("before", cutoff.Format(models.DateLayout)), zap.Int64("rows", removed))
	}
	return nil
}
