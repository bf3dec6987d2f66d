package models

import "time"

// Review is additive: at most one per (task, reviewer, reviewed) triple.
// It feeds the reviewed user's running rating average.
type Review struct {
	ID         int64     `json:"id"`
	TaskID     int64     `json:"task_id"`
	ReviewerID int64     `json:"reviewer_id"`
	ReviewedID int64     `json:"reviewed_id"`
	Rating     int       `json:"rating"` // 1..5
	Comment    *string   `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
