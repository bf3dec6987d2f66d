package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rozdum/backend/internal/http/dto"
	"github.com/rozdum/backend/internal/middleware"
	"github.com/rozdum/backend/internal/repositories"
	"github.com/rozdum/backend/internal/services"
	"go.uber.org/zap"
)

type TaskHandler struct {
	tasks   *services.TaskService
	reviews *services.ReviewService
	log     *zap.Logger
}

func NewTaskHandler(tasks *services.TaskService, reviews *services.ReviewService, log *zap.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, reviews: reviews, log: log}
}

func parseID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	var req dto.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	task, err := h.tasks.Submit(c.Context(), middleware.GetUserID(c), services.SubmitTaskInput{
		Category:    req.Category,
		Tags:        req.Tags,
		Description: req.Description,
		Price:       req.Price,
		Priority:    req.Priority,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: task})
}

func (h *TaskHandler) GetTask(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	task, err := h.tasks.Get(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: task})
}

func (h *TaskHandler) ListTasks(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	filter := repositories.TaskFilter{Limit: 20}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}

	switch c.Query("role") {
	case "executor":
		filter.ExecutorID = &userID
	default:
		filter.CustomerID = &userID
	}

	tasks, err := h.tasks.List(c.Context(), filter)
	if err != nil {
		h.log.Error("list tasks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: tasks})
}

func (h *TaskHandler) ReportCompletion(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	task, err := h.tasks.ReportCompletion(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: task})
}

func (h *TaskHandler) Approve(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	task, err := h.tasks.Approve(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: task})
}

func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	task, err := h.tasks.Cancel(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: task})
}

func (h *TaskHandler) OpenDispute(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	var req dto.OpenDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	dispute, err := h.tasks.OpenDispute(c.Context(), id, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

func (h *TaskHandler) AddReview(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid task id"})
	}
	var req dto.AddReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	review, err := h.reviews.Add(c.Context(), id, middleware.GetUserID(c), req.Rating, req.Comment)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: review})
}
