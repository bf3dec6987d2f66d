package models

import "errors"

// Domain errors. Repositories and services return these (usually wrapped)
// so handlers can map them to HTTP status codes without string matching.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrNoEligibleCandidate = errors.New("no eligible candidate")
	ErrUnauthorized        = errors.New("unauthorized")
)
