package domain

import "errors"

var (
	// Ledger errors. Synchronous and caller-visible.
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrWouldGoNegative     = errors.New("adjustment would result in a negative balance")
	ErrInvalidAmount       = errors.New("amount must be positive")

	// Job submission errors.
	ErrNoRecipients = errors.New("at least one recipient is required")
	ErrEmptyContent = errors.New("message content is required")
	ErrCostMismatch = errors.New("token cost must equal the recipient count")

	// Tenant errors.
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantInactive = errors.New("tenant is not active")

	ErrNotFound = errors.New("not found")
)
