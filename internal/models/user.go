package models

import "time"

// User is a marketplace account. Every account can act as a customer;
// accounts with executor tags can also receive offers.
//
// Balance fields are mutated only through the ledger settlement
// transactions; ReliabilityCounter counts consecutive missed offers.
type User struct {
	ID                 int64               `json:"id"`
	Username           *string             `json:"username,omitempty"`
	AvailableBalance   float64             `json:"available_balance"`
	FrozenBalance      float64             `json:"frozen_balance"`
	LifetimeEarned     float64             `json:"lifetime_earned"`
	WithdrawnTotal     float64             `json:"withdrawn_total"`
	Rating             float64             `json:"rating"`
	ReviewsCount       int                 `json:"reviews_count"`
	CompletedTasks     int                 `json:"completed_tasks"`
	ExecutorTags       map[string][]string `json:"executor_tags,omitempty"` // category -> tags
	ReliabilityCounter int                 `json:"reliability_counter"`
	IsAcceptingWork    bool                `json:"is_accepting_work"`
	IsBlocked          bool                `json:"is_blocked"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// WithdrawableBalance is the earned-only portion the user may withdraw.
func (u *User) WithdrawableBalance() float64 {
	w := u.LifetimeEarned - u.WithdrawnTotal
	if w > u.AvailableBalance {
		w = u.AvailableBalance
	}
	if w < 0 {
		w = 0
	}
	return w
}

// TagsForCategory returns the executor's declared tags within one category.
func (u *User) TagsForCategory(category string) []string {
	if u.ExecutorTags == nil {
		return nil
	}
	return u.ExecutorTags[category]
}
