package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rozdum/backend/internal/http/dto"
	"github.com/rozdum/backend/internal/middleware"
	"github.com/rozdum/backend/internal/repositories"
	"github.com/rozdum/backend/internal/services"
	"go.uber.org/zap"
)

type OfferHandler struct {
	dispatcher *services.Dispatcher
	offerRepo  *repositories.OfferRepo
	tasks      *services.TaskService
	log        *zap.Logger
}

func NewOfferHandler(dispatcher *services.Dispatcher, offerRepo *repositories.OfferRepo, tasks *services.TaskService, log *zap.Logger) *OfferHandler {
	return &OfferHandler{dispatcher: dispatcher, offerRepo: offerRepo, tasks: tasks, log: log}
}

// ListForTask shows a task's offer history to its parties.
func (h *OfferHandler) ListForTask(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	// Get enforces that the requester is a party or an admin.
	if _, err := h.tasks.Get(c.Context(), id, middleware.GetUserID(c)); err != nil {
		return respondError(c, err)
	}
	offers, err := h.offerRepo.ListByTask(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: offers})
}

func (h *OfferHandler) GetOffer(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid offer id"})
	}
	offer, err := h.offerRepo.GetByID(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}
	if offer.ExecutorID != middleware.GetUserID(c) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "forbidden"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: offer})
}

// Respond is the executor's accept/decline on a pending offer.
func (h *OfferHandler) Respond(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid offer id"})
	}
	var req dto.RespondOfferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	offer, err := h.dispatcher.RespondToOffer(c.Context(), id, middleware.GetUserID(c), req.Accept)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: offer})
}
