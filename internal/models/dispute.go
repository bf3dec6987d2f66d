package models

import "time"

// Dispute statuses
const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// Dispute resolution outcomes
const (
	OutcomeFavorCustomer = "favor_customer"
	OutcomeFavorExecutor = "favor_executor"
)

func IsValidOutcome(outcome string) bool {
	return outcome == OutcomeFavorCustomer || outcome == OutcomeFavorExecutor
}

type Dispute struct {
	ID         int64      `json:"id"`
	TaskID     int64      `json:"task_id"`
	CustomerID int64      `json:"customer_id"`
	ExecutorID int64      `json:"executor_id"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	Outcome    *string    `json:"outcome,omitempty"`
	ResolvedBy *int64     `json:"resolved_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// DisputeWithTask embeds Dispute and adds task info to avoid N+1 queries.
type DisputeWithTask struct {
	Dispute
	TaskDescription string  `json:"task_description"`
	TaskPrice       float64 `json:"task_price"`
	TaskCategory    string  `json:"task_category"`
}
