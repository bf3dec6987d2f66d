package models

import "time"

// Task statuses
const (
	TaskStatusSearching       = "searching"
	TaskStatusOffered         = "offered"
	TaskStatusInProgress      = "in_progress"
	TaskStatusPendingApproval = "pending_approval"
	TaskStatusCompleted       = "completed"
	TaskStatusDisputed        = "disputed"
	TaskStatusCancelled       = "cancelled"
)

// Valid state transitions: from -> []to
var ValidTaskTransitions = map[string][]string{
	TaskStatusSearching:       {TaskStatusOffered, TaskStatusCancelled},
	TaskStatusOffered:         {TaskStatusSearching, TaskStatusInProgress, TaskStatusCancelled},
	TaskStatusInProgress:      {TaskStatusPendingApproval, TaskStatusDisputed},
	TaskStatusPendingApproval: {TaskStatusCompleted, TaskStatusDisputed},
	TaskStatusDisputed:        {TaskStatusCompleted, TaskStatusCancelled},
	TaskStatusCompleted:       {},
	TaskStatusCancelled:       {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidTaskTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further transition can fire for the task.
func IsTerminalStatus(status string) bool {
	return len(ValidTaskTransitions[status]) == 0
}

type Task struct {
	ID          int64    `json:"id"`
	CustomerID  int64    `json:"customer_id"`
	ExecutorID  *int64   `json:"executor_id,omitempty"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Priority    bool     `json:"priority"`
	// FrozenAmount is what was actually escrowed at creation (price plus any
	// priority surcharge). Settlements use it rather than recomputing from
	// current config, so a surcharge change cannot strand frozen funds.
	FrozenAmount float64    `json:"frozen_amount"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
