package models

import "time"

// Offer statuses
const (
	OfferStatusPending   = "pending"
	OfferStatusAccepted  = "accepted"
	OfferStatusRejected  = "rejected"
	OfferStatusExpired   = "expired"
	OfferStatusCancelled = "cancelled"
)

// Offer is a time-boxed proposal of one task to one executor.
// At most one pending offer exists per task (enforced by a partial
// unique index); a resolved offer is immutable.
type Offer struct {
	ID         int64     `json:"id"`
	TaskID     int64     `json:"task_id"`
	ExecutorID int64     `json:"executor_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Missed reports whether the offer counted against executor reliability.
func (o *Offer) Missed() bool {
	return o.Status == OfferStatusRejected || o.Status == OfferStatusExpired
}
