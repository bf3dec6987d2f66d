package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rozdum/backend/internal/http/dto"
	"github.com/rozdum/backend/internal/middleware"
	"github.com/rozdum/backend/internal/models"
	"github.com/rozdum/backend/internal/services"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	resolver *services.DisputeResolver
	log      *zap.Logger
}

func NewDisputeHandler(resolver *services.DisputeResolver, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{resolver: resolver, log: log}
}

func (h *DisputeHandler) GetDispute(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid dispute id"})
	}
	dispute, err := h.resolver.Get(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *DisputeHandler) ListOpen(c *fiber.Ctx) error {
	disputes, err := h.resolver.ListOpen(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: disputes})
}

func (h *DisputeHandler) Resolve(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid dispute id"})
	}
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if !models.IsValidOutcome(req.Outcome) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "outcome must be favor_customer or favor_executor"})
	}

	dispute, err := h.resolver.Resolve(c.Context(), id, middleware.GetUserID(c), req.Outcome)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}
