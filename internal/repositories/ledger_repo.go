package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rozdum/backend/internal/models"
)

// LedgerRepo is the only writer of balance columns. Every balance change
// lands in one transaction together with its transactions-table record, so
// balances and history cannot drift apart.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func recordTx(ctx context.Context, tx pgx.Tx, userID int64, amount float64, txType string, taskID *int64, description string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (user_id, amount, type, task_id, description)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, amount, txType, taskID, description)
	if err != nil {
		return fmt.Errorf("record %s transaction: %w", txType, err)
	}
	return nil
}

func (r *LedgerRepo) Deposit(ctx context.Context, userID int64, amount float64, description string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit amount must be positive", models.ErrInvalidTransition)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET available_balance = available_balance + $1, updated_at = now()
		WHERE id = $2
	`, amount, userID)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	if err := recordTx(ctx, tx, userID, amount, models.TxTypeDeposit, nil, description); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Withdraw debits available balance, capped at earned funds: deposits can be
// spent on tasks but never withdrawn back out.
func (r *LedgerRepo) Withdraw(ctx context.Context, userID int64, amount float64, description string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: withdrawal amount must be positive", models.ErrInvalidTransition)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET
			available_balance = available_balance - $1,
			withdrawn_total   = withdrawn_total + $1,
			updated_at        = now()
		WHERE id = $2
		  AND available_balance >= $1
		  AND lifetime_earned - withdrawn_total >= $1
	`, amount, userID)
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInsufficientFunds
	}
	if err := recordTx(ctx, tx, userID, -amount, models.TxTypeWithdrawal, nil, description); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateTaskFrozen inserts the task and freezes the customer's funds for it
// in a single transaction. freezeAmount covers price plus any priority
// surcharge and is persisted on the task row, so settlements unfreeze exactly
// what was frozen. On insufficient funds nothing is created.
func (r *LedgerRepo) CreateTaskFrozen(ctx context.Context, task *models.Task, freezeAmount float64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET
			available_balance = available_balance - $1,
			frozen_balance    = frozen_balance + $1,
			updated_at        = now()
		WHERE id = $2 AND available_balance >= $1
	`, freezeAmount, task.CustomerID)
	if err != nil {
		return fmt.Errorf("freeze funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInsufficientFunds
	}

	tags, err := json.Marshal(task.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	if task.Tags == nil {
		tags = []byte(`[]`)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO tasks (customer_id, category, tags, description, price, priority, frozen_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'searching')
		RETURNING id, status, created_at, updated_at
	`, task.CustomerID, task.Category, tags, task.Description, task.Price, task.Priority, freezeAmount).
		Scan(&task.ID, &task.Status, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	task.FrozenAmount = freezeAmount

	desc := fmt.Sprintf("escrow freeze for task #%d", task.ID)
	if err := recordTx(ctx, tx, task.CustomerID, -freezeAmount, models.TxTypeEscrowFreeze, &task.ID, desc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EscrowRelease describes a settlement that pays the executor: the customer's
// frozen amount is burned, the executor receives their share and the spread
// stays with the platform as commission.
type EscrowRelease struct {
	TaskID        int64
	FromStatus    string
	CustomerID    int64
	ExecutorID    int64
	FrozenAmount  float64
	ExecutorShare float64
	Commission    float64
}

func (r *LedgerRepo) ReleaseEscrow(ctx context.Context, rel EscrowRelease) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := releaseEscrowTx(ctx, tx, rel); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func releaseEscrowTx(ctx context.Context, tx pgx.Tx, rel EscrowRelease) error {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'completed', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $2
	`, rel.TaskID, rel.FromStatus)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %d is not %s", models.ErrInvalidTransition, rel.TaskID, rel.FromStatus)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE accounts SET frozen_balance = frozen_balance - $1, updated_at = now()
		WHERE id = $2 AND frozen_balance >= $1
	`, rel.FrozenAmount, rel.CustomerID)
	if err != nil {
		return fmt.Errorf("burn frozen funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts SET
			available_balance = available_balance + $1,
			lifetime_earned   = lifetime_earned + $1,
			completed_tasks   = completed_tasks + 1,
			updated_at        = now()
		WHERE id = $2
	`, rel.ExecutorShare, rel.ExecutorID)
	if err != nil {
		return fmt.Errorf("credit executor: %w", err)
	}

	desc := fmt.Sprintf("escrow release for task #%d", rel.TaskID)
	if err := recordTx(ctx, tx, rel.CustomerID, -rel.FrozenAmount, models.TxTypeEscrowRelease, &rel.TaskID, desc); err != nil {
		return err
	}
	payDesc := fmt.Sprintf("payout for task #%d (commission %.2f)", rel.TaskID, rel.Commission)
	return recordTx(ctx, tx, rel.ExecutorID, rel.ExecutorShare, models.TxTypeEscrowRelease, &rel.TaskID, payDesc)
}

// EscrowRefund returns the full frozen amount to the customer and cancels the
// task. Any pending offer for the task is voided in the same transaction.
type EscrowRefund struct {
	TaskID       int64
	FromStatuses []string
	CustomerID   int64
	FrozenAmount float64
}

func (r *LedgerRepo) RefundEscrow(ctx context.Context, ref EscrowRefund) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := refundEscrowTx(ctx, tx, ref); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func refundEscrowTx(ctx context.Context, tx pgx.Tx, ref EscrowRefund) error {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'cancelled', executor_id = NULL, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
	`, ref.TaskID, ref.FromStatuses)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %d cannot be cancelled", models.ErrInvalidTransition, ref.TaskID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE offers SET status = 'cancelled' WHERE task_id = $1 AND status = 'pending'
	`, ref.TaskID)
	if err != nil {
		return fmt.Errorf("void pending offer: %w", err)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE accounts SET
			frozen_balance    = frozen_balance - $1,
			available_balance = available_balance + $1,
			updated_at        = now()
		WHERE id = $2 AND frozen_balance >= $1
	`, ref.FrozenAmount, ref.CustomerID)
	if err != nil {
		return fmt.Errorf("unfreeze funds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrInsufficientFunds
	}

	desc := fmt.Sprintf("escrow refund for task #%d", ref.TaskID)
	return recordTx(ctx, tx, ref.CustomerID, ref.FrozenAmount, models.TxTypeRefund, &ref.TaskID, desc)
}

// DisputeSettlement resolves a dispute and applies the matching escrow
// movement atomically. Exactly one of Release/Refund is set, chosen by the
// outcome.
type DisputeSettlement struct {
	DisputeID  int64
	ResolverID int64
	Outcome    string
	Release    *EscrowRelease
	Refund     *EscrowRefund
}

// SettleDispute flips the dispute open -> resolved and settles the escrow in
// one transaction. A second resolution attempt fails on the dispute guard and
// moves no money.
func (r *LedgerRepo) SettleDispute(ctx context.Context, s DisputeSettlement) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE disputes SET status = 'resolved', outcome = $1, resolved_by = $2, resolved_at = now()
		WHERE id = $3 AND status = 'open'
	`, s.Outcome, s.ResolverID, s.DisputeID)
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: dispute %d is already resolved", models.ErrInvalidTransition, s.DisputeID)
	}

	switch {
	case s.Release != nil:
		err = releaseEscrowTx(ctx, tx, *s.Release)
	case s.Refund != nil:
		err = refundEscrowTx(ctx, tx, *s.Refund)
	default:
		err = errors.New("dispute settlement has no escrow movement")
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *LedgerRepo) Transactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, type, task_id, description, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.TaskID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
