package models

import "time"

// Transaction types
const (
	TxTypeDeposit       = "deposit"
	TxTypeWithdrawal    = "withdrawal"
	TxTypeEscrowFreeze  = "escrow_freeze"
	TxTypeEscrowRelease = "escrow_release"
	TxTypeRefund        = "refund"
	TxTypeCommission    = "commission"
)

// Transaction is an append-only record of one balance movement. Rows are
// written inside the same database transaction as the movement itself.
type Transaction struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Amount      float64   `json:"amount"` // signed: negative leaves the account
	Type        string    `json:"type"`
	TaskID      *int64    `json:"task_id,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
