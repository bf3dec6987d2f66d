package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rozdum/backend/internal/http/dto"
	"github.com/rozdum/backend/internal/models"
	"github.com/rozdum/backend/internal/repositories"
)

// respondError maps domain sentinels onto HTTP statuses; anything unknown is
// a plain 400 with the error text, matching the rest of the API surface.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "not found"})
	case errors.Is(err, models.ErrUnauthorized):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "forbidden"})
	case errors.Is(err, models.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrInsufficientFunds):
		return c.Status(fiber.StatusPaymentRequired).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrNoEligibleCandidate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, repositories.ErrAlreadyReviewed):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
}
