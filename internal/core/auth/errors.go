package auth

import "errors"

// Both map to UNAUTHENTICATED / 401 and never confirm which part was wrong.
var (
	ErrMissingKey = errors.New("API key required in x-api-key header")
	ErrInvalidKey = errors.New("invalid API key")
)
