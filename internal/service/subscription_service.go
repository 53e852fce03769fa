package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	appErrors "github.com/Cyannimazing/churchms-backend-sub001/pkg/errors"
)

const (
	defaultTickLockKey = "locks:subscription-tick"
	defaultTickLockTTL = 5 * time.Minute
)

type subscriptionStore interface {
	ExpireDue(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error)
	ListPendingDue(ctx context.Context, exec sqlx.ExtContext, now time.Time) ([]models.ChurchSubscription, error)
	ExpireOtherActive(ctx context.Context, exec sqlx.ExtContext, userID, keepID string, now time.Time) (int64, error)
	Activate(ctx context.Context, exec sqlx.ExtContext, id string, now time.Time) error
	ListValidOwnerIDs(ctx context.Context, exec sqlx.ExtContext, now time.Time) ([]string, error)
	HideChurchesExcept(ctx context.Context, exec sqlx.ExtContext, ownerIDs []string, now time.Time) (int64, error)
	ChurchVisible(ctx context.Context, churchID string, now time.Time) (bool, error)
}

type distributedLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

// SubscriptionService sweeps subscription statuses and church visibility.
type SubscriptionService struct {
	repo    subscriptionStore
	tx      txProvider
	lock    distributedLock
	lockKey string
	lockTTL time.Duration
	metrics *MetricsService
	clock   clock.Clock
	logger  *zap.Logger
}

// NewSubscriptionService builds the sweep. A nil lock runs GuardedTick unguarded.
func NewSubscriptionService(repo subscriptionStore, tx txProvider, lock distributedLock, lockTTL time.Duration, metrics *MetricsService, clk clock.Clock, logger *zap.Logger) *SubscriptionService {
	if lockTTL <= 0 {
		lockTTL = defaultTickLockTTL
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionService{repo: repo, tx: tx, lock: lock, lockKey: defaultTickLockKey, lockTTL: lockTTL, metrics: metrics, clock: clk, logger: logger}
}

// WithLockKey overrides the lock key shared by every tick runner.
func (s *SubscriptionService) WithLockKey(key string) *SubscriptionService {
	if key != "" {
		s.lockKey = key
	}
	return s
}

// RunTick applies one sweep in a single transaction:
//  1. expire ACTIVE subscriptions whose end date has passed;
//  2. activate due PENDING subscriptions, expiring the owner's other ACTIVE one first;
//  3. hide public churches whose owner has no valid ACTIVE subscription.
//
// Running it twice at the same instant changes nothing the second time.
func (s *SubscriptionService) RunTick(ctx context.Context) (report *models.SubscriptionTickReport, err error) {
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	started := time.Now()
	now := s.clock.Now()
	report = &models.SubscriptionTickReport{RanAt: now}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin subscription tick")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if report.Expired, err = s.repo.ExpireDue(ctx, tx, now); err != nil {
		return nil, tickError(err, "failed to expire subscriptions")
	}

	pending, err := s.repo.ListPendingDue(ctx, tx, now)
	if err != nil {
		return nil, tickError(err, "failed to list pending subscriptions")
	}
	for _, sub := range pending {
		superseded, err := s.repo.ExpireOtherActive(ctx, tx, sub.UserID, sub.ID, now)
		if err != nil {
			return nil, tickError(err, "failed to expire superseded subscription")
		}
		if err := s.repo.Activate(ctx, tx, sub.ID, now); err != nil {
			return nil, tickError(err, "failed to activate subscription")
		}
		report.Superseded += superseded
		report.Activated++
	}

	owners, err := s.repo.ListValidOwnerIDs(ctx, tx, now)
	if err != nil {
		return nil, tickError(err, "failed to list subscribed owners")
	}
	report.ValidOwners = len(owners)
	if report.HiddenChurches, err = s.repo.HideChurchesExcept(ctx, tx, owners, now); err != nil {
		return nil, tickError(err, "failed to hide unsubscribed churches")
	}

	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit subscription tick")
	}

	s.metrics.ObserveSubscriptionTick(report, time.Since(started))
	if report.Changed() {
		s.logger.Info("subscription tick applied",
			zap.Int64("expired", report.Expired),
			zap.Int("activated", report.Activated),
			zap.Int64("superseded", report.Superseded),
			zap.Int64("hidden_churches", report.HiddenChurches))
	} else {
		s.logger.Debug("subscription tick found nothing to change")
	}
	return report, nil
}

// GuardedTick runs RunTick while holding the cluster-wide tick lock. ran is
// false when another runner holds the lock.
func (s *SubscriptionService) GuardedTick(ctx context.Context) (report *models.SubscriptionTickReport, ran bool, err error) {
	if s.lock == nil {
		report, err = s.RunTick(ctx)
		return report, err == nil, err
	}

	token, err := s.lock.Acquire(ctx, s.lockKey, s.lockTTL)
	if err != nil {
		if errors.Is(err, appErrors.ErrLockNotAcquired) {
			s.logger.Debug("subscription tick skipped, lock held elsewhere")
			return nil, false, nil
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire subscription tick lock")
	}
	defer func() {
		// the lease outlives a cancelled request context
		if relErr := s.lock.Release(context.WithoutCancel(ctx), s.lockKey, token); relErr != nil {
			s.logger.Warn("failed to release subscription tick lock", zap.Error(relErr))
		}
	}()

	report, err = s.RunTick(ctx)
	if err != nil {
		return nil, true, err
	}
	return report, true, nil
}

// Tick adapts GuardedTick to a jobs.TickFunc.
func (s *SubscriptionService) Tick(ctx context.Context) error {
	_, _, err := s.GuardedTick(ctx)
	return err
}

// ChurchVisible reports whether the church is public and backed by a valid subscription.
func (s *SubscriptionService) ChurchVisible(ctx context.Context, churchID string) (bool, error) {
	visible, err := s.repo.ChurchVisible(ctx, churchID, s.clock.Now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrNotFound, "church not found")
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check church visibility")
	}
	return visible, nil
}

func tickError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
