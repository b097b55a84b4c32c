package generation

import "errors"

// Generation errors.
var (
	ErrValidation    = errors.New("invalid generation request")
	ErrStoreNotFound = errors.New("store not found")
	ErrJobNotFound   = errors.New("generation job not found")
)
