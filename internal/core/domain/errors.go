package domain

import "errors"

var (
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidCost       = errors.New("invalid cost")
	ErrInvalidItem       = errors.New("invalid item identity")
	ErrItemNotFound      = errors.New("item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRequestNotFound   = errors.New("material request not found")
	ErrInvalidTransition = errors.New("invalid request transition")
	ErrSameSite          = errors.New("source and destination site are the same")
	ErrUnknownSite       = errors.New("unknown site")
	ErrDuplicateRequest  = errors.New("duplicate request")

	// ErrConflict is transient: the caller may retry with backoff.
	ErrConflict = errors.New("conflicting concurrent update")
	// ErrTimeout means the atomic unit did not commit in time; no side
	// effects are visible.
	ErrTimeout = errors.New("operation timed out")
)
