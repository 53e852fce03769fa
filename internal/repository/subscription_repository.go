package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/models"
)

// SubscriptionRepository runs the set-based statements behind the subscription
// sweep. Callers pass the sweep transaction as exec.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository constructs repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ExpireDue moves every ACTIVE subscription whose end date has passed to EXPIRED.
func (r *SubscriptionRepository) ExpireDue(ctx context.Context, exec sqlx.ExtContext, now time.Time) (int64, error) {
	const query = `UPDATE church_subscriptions SET status = 'EXPIRED', updated_at = $1 WHERE status = 'ACTIVE' AND end_date <= $1`
	res, err := r.exec(exec).ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire due subscriptions: %w", err)
	}
	return res.RowsAffected()
}

// ListPendingDue returns PENDING subscriptions whose start has arrived, oldest
// start first, row-locked for the rest of the sweep.
func (r *SubscriptionRepository) ListPendingDue(ctx context.Context, exec sqlx.ExtContext, now time.Time) ([]models.ChurchSubscription, error) {
	const query = `SELECT id, user_id, plan_id, start_date, end_date, status, created_at, updated_at
FROM church_subscriptions WHERE status = 'PENDING' AND start_date <= $1
ORDER BY start_date ASC, created_at ASC FOR UPDATE`
	var subs []models.ChurchSubscription
	if err := sqlx.SelectContext(ctx, r.exec(exec), &subs, query, now); err != nil {
		return nil, fmt.Errorf("list pending subscriptions: %w", err)
	}
	return subs, nil
}

// ExpireOtherActive expires any ACTIVE subscription of userID other than keepID.
func (r *SubscriptionRepository) ExpireOtherActive(ctx context.Context, exec sqlx.ExtContext, userID, keepID string, now time.Time) (int64, error) {
	const query = `UPDATE church_subscriptions SET status = 'EXPIRED', updated_at = $3 WHERE user_id = $1 AND id <> $2 AND status = 'ACTIVE'`
	res, err := r.exec(exec).ExecContext(ctx, query, userID, keepID, now)
	if err != nil {
		return 0, fmt.Errorf("expire superseded subscriptions: %w", err)
	}
	return res.RowsAffected()
}

// Activate flips one PENDING subscription to ACTIVE.
func (r *SubscriptionRepository) Activate(ctx context.Context, exec sqlx.ExtContext, id string, now time.Time) error {
	const query = `UPDATE church_subscriptions SET status = 'ACTIVE', updated_at = $2 WHERE id = $1 AND status = 'PENDING'`
	res, err := r.exec(exec).ExecContext(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	return expectOneRow(res, "activate subscription")
}

// ListValidOwnerIDs returns users holding an ACTIVE subscription that has not ended.
func (r *SubscriptionRepository) ListValidOwnerIDs(ctx context.Context, exec sqlx.ExtContext, now time.Time) ([]string, error) {
	const query = `SELECT DISTINCT user_id FROM church_subscriptions WHERE status = 'ACTIVE' AND end_date > $1`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.exec(exec), &ids, query, now); err != nil {
		return nil, fmt.Errorf("list valid subscription owners: %w", err)
	}
	return ids, nil
}

// HideChurchesExcept unpublishes every public church whose owner is not in
// ownerIDs. An empty list hides all public churches.
func (r *SubscriptionRepository) HideChurchesExcept(ctx context.Context, exec sqlx.ExtContext, ownerIDs []string, now time.Time) (int64, error) {
	if ownerIDs == nil {
		ownerIDs = []string{}
	}
	const query = `UPDATE churches SET is_public = FALSE, updated_at = $2
WHERE is_public = TRUE AND NOT (owner_user_id::text = ANY($1::text[]))`
	res, err := r.exec(exec).ExecContext(ctx, query, pq.Array(ownerIDs), now)
	if err != nil {
		return 0, fmt.Errorf("hide churches without subscription: %w", err)
	}
	return res.RowsAffected()
}

// ChurchVisible reports whether a church is public and its owner currently
// holds a valid subscription.
func (r *SubscriptionRepository) ChurchVisible(ctx context.Context, churchID string, now time.Time) (bool, error) {
	const query = `SELECT c.is_public AND EXISTS (
    SELECT 1 FROM church_subscriptions s
    WHERE s.user_id = c.owner_user_id AND s.status = 'ACTIVE' AND s.end_date > $2
) FROM churches c WHERE c.id = $1`
	var visible bool
	if err := r.db.GetContext(ctx, &visible, query, churchID, now); err != nil {
		return false, err
	}
	return visible, nil
}
