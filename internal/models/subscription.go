package models

import "time"

// SubscriptionStatus is the lifecycle state of a church owner's plan.
type SubscriptionStatus string

const (
	SubscriptionPending SubscriptionStatus = "PENDING"
	SubscriptionActive  SubscriptionStatus = "ACTIVE"
	SubscriptionExpired SubscriptionStatus = "EXPIRED"
)

// ChurchSubscription is a time-bound plan purchased by a church owner.
type ChurchSubscription struct {
	ID        string             `db:"id" json:"id"`
	UserID    string             `db:"user_id" json:"user_id"`
	PlanID    string             `db:"plan_id" json:"plan_id"`
	StartDate time.Time          `db:"start_date" json:"start_date"`
	EndDate   time.Time          `db:"end_date" json:"end_date"`
	Status    SubscriptionStatus `db:"status" json:"status"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt time.Time          `db:"updated_at" json:"updated_at"`
}

// ValidAt reports whether the subscription grants visibility at now.
func (s ChurchSubscription) ValidAt(now time.Time) bool {
	return s.Status == SubscriptionActive && s.EndDate.After(now)
}

// Church is the tenant whose public listing depends on its owner's subscription.
type Church struct {
	ID          string    `db:"id" json:"id"`
	OwnerUserID string    `db:"owner_user_id" json:"owner_user_id"`
	Name        string    `db:"name" json:"name"`
	IsPublic    bool      `db:"is_public" json:"is_public"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// SubscriptionTickReport summarises one run of the subscription status sweep.
type SubscriptionTickReport struct {
	RanAt          time.Time `json:"ran_at"`
	Expired        int64     `json:"expired"`
	Activated      int       `json:"activated"`
	Superseded     int64     `json:"superseded"`
	ValidOwners    int       `json:"valid_owners"`
	HiddenChurches int64     `json:"hidden_churches"`
}

// Changed reports whether the run mutated anything.
func (r SubscriptionTickReport) Changed() bool {
	return r.Expired > 0 || r.Activated > 0 || r.Superseded > 0 || r.HiddenChurches > 0
}
