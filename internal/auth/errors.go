package auth

import "errors"

// Sentinel errors surfaced by token and feed-signature validation.
var (
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrInvalidSignature = errors.New("auth: invalid feed signature")
	ErrStaleSignature   = errors.New("auth: stale feed signature")
)
