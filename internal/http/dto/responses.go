package dto

import "github.com/rozdum/backend/internal/models"

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type BalanceResponse struct {
	Available    float64 `json:"available_balance"`
	Frozen       float64 `json:"frozen_balance"`
	Withdrawable float64 `json:"withdrawable_balance"`
}
