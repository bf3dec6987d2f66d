package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rozdum/backend/internal/http/dto"
	"github.com/rozdum/backend/internal/middleware"
	"github.com/rozdum/backend/internal/services"
	"go.uber.org/zap"
)

type UserHandler struct {
	accounts *services.AccountService
	reviews  *services.ReviewService
	log      *zap.Logger
}

func NewUserHandler(accounts *services.AccountService, reviews *services.ReviewService, log *zap.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, reviews: reviews, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	user, err := h.accounts.Get(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

func (h *UserHandler) GetBalance(c *fiber.Ctx) error {
	user, err := h.accounts.Get(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.BalanceResponse{
		Available:    user.AvailableBalance,
		Frozen:       user.FrozenBalance,
		Withdrawable: user.WithdrawableBalance(),
	}})
}

func (h *UserHandler) SetAvailability(c *fiber.Ctx) error {
	var req dto.AvailabilityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.accounts.SetAvailability(c.Context(), middleware.GetUserID(c), req.AcceptingWork); err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *UserHandler) UpdateTags(c *fiber.Ctx) error {
	var req dto.UpdateTagsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.accounts.UpdateTags(c.Context(), middleware.GetUserID(c), req.Tags); err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *UserHandler) Deposit(c *fiber.Ctx) error {
	var req dto.AmountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.accounts.Deposit(c.Context(), middleware.GetUserID(c), req.Amount); err != nil {
		return respondError(c, err)
	}
	return h.GetBalance(c)
}

func (h *UserHandler) Withdraw(c *fiber.Ctx) error {
	var req dto.AmountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := h.accounts.Withdraw(c.Context(), middleware.GetUserID(c), req.Amount); err != nil {
		return respondError(c, err)
	}
	return h.GetBalance(c)
}

func (h *UserHandler) Transactions(c *fiber.Ctx) error {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	txs, err := h.accounts.Transactions(c.Context(), middleware.GetUserID(c), limit)
	if err != nil {
		h.log.Error("list transactions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}

func (h *UserHandler) ListReviews(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid user id"})
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil {
			limit = n
		}
	}
	reviews, err := h.reviews.ListForUser(c.Context(), userID, limit)
	if err != nil {
		h.log.Error("list reviews", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: reviews})
}
