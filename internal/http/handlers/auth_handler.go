package handlers

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rozdum/backend/internal/auth"
	"github.com/rozdum/backend/internal/config"
	"github.com/rozdum/backend/internal/http/dto"
	"github.com/rozdum/backend/internal/repositories"
	"go.uber.org/zap"
)

// AuthHandler exchanges a bridge-authenticated identity for an API token.
// The messaging front-end verifies the user and calls this endpoint with the
// shared bridge token.
type AuthHandler struct {
	userRepo *repositories.UserRepo
	cfg      *config.Config
	log      *zap.Logger
}

func NewAuthHandler(userRepo *repositories.UserRepo, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{userRepo: userRepo, cfg: cfg, log: log}
}

func (h *AuthHandler) Session(c *fiber.Ctx) error {
	if h.cfg.BridgeToken != "" {
		got := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.BridgeToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid bridge token"})
		}
	}

	var req dto.SessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.UserID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "user_id is required"})
	}

	user, err := h.userRepo.Upsert(c.Context(), req.UserID, req.Username)
	if err != nil {
		h.log.Error("upsert account", zap.Int64("user_id", req.UserID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{Token: token, User: user})
}
