package payment

import "errors"

// Payment errors.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrCheckoutFailed   = errors.New("checkout session creation failed")
)
