package ledger

import "errors"

// Ledger errors.
var (
	ErrPlanNotFound          = errors.New("plan not found")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrSubscriptionNotActive = errors.New("subscription not active")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrPlanCapability        = errors.New("feature not included in plan")
	ErrUnknownFeature        = errors.New("unknown feature type")
	ErrInvalidAmount         = errors.New("credit amount must be positive")
)
