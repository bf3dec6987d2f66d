package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rozdum/backend/internal/models"
	"github.com/rozdum/backend/internal/repositories"
	"go.uber.org/zap"
)

// AccountService covers the profile and wallet surface: availability, skill
// tags, deposits and withdrawal of earned funds.
type AccountService struct {
	userRepo   *repositories.UserRepo
	ledgerRepo *repositories.LedgerRepo
	log        *zap.Logger
}

func NewAccountService(userRepo *repositories.UserRepo, ledgerRepo *repositories.LedgerRepo, log *zap.Logger) *AccountService {
	return &AccountService{userRepo: userRepo, ledgerRepo: ledgerRepo, log: log}
}

func (s *AccountService) Get(ctx context.Context, userID int64) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// SetAvailability toggles offer eligibility. Coming back online clears the
// consecutive-miss counter, so a returning executor is not deactivated by
// stale history.
func (s *AccountService) SetAvailability(ctx context.Context, userID int64, accepting bool) error {
	if err := s.userRepo.SetAcceptingWork(ctx, userID, accepting); err != nil {
		return err
	}
	if accepting {
		if err := s.userRepo.ResetReliability(ctx, userID); err != nil {
			return err
		}
	}
	s.log.Info("availability changed", zap.Int64("user_id", userID), zap.Bool("accepting", accepting))
	return nil
}

// UpdateTags replaces the executor's per-category skill tags.
func (s *AccountService) UpdateTags(ctx context.Context, userID int64, tags map[string][]string) error {
	normalized := make(map[string][]string, len(tags))
	for category, list := range tags {
		category = strings.ToLower(strings.TrimSpace(category))
		if category == "" {
			return errors.New("empty category name")
		}
		clean := make([]string, 0, len(list))
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" {
				clean = append(clean, t)
			}
		}
		normalized[category] = clean
	}
	return s.userRepo.UpdateExecutorTags(ctx, userID, normalized)
}

func (s *AccountService) Deposit(ctx context.Context, userID int64, amount float64) error {
	if err := s.ledgerRepo.Deposit(ctx, userID, amount, "balance top-up"); err != nil {
		return err
	}
	s.log.Info("deposit", zap.Int64("user_id", userID), zap.Float64("amount", amount))
	return nil
}

// Withdraw pays out earned funds only. The ledger enforces both the
// available-balance and the earned-funds caps; this wrapper turns the
// combined failure into a friendlier message.
func (s *AccountService) Withdraw(ctx context.Context, userID int64, amount float64) error {
	err := s.ledgerRepo.Withdraw(ctx, userID, amount, "withdrawal of earned funds")
	if errors.Is(err, models.ErrInsufficientFunds) {
		u, gerr := s.userRepo.GetByID(ctx, userID)
		if gerr == nil {
			return fmt.Errorf("%w: withdrawable balance is %.2f", models.ErrInsufficientFunds, u.WithdrawableBalance())
		}
	}
	if err != nil {
		return err
	}
	s.log.Info("withdrawal", zap.Int64("user_id", userID), zap.Float64("amount", amount))
	return nil
}

func (s *AccountService) Transactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	return s.ledgerRepo.Transactions(ctx, userID, limit)
}
