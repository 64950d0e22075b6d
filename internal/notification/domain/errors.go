package domain

import "errors"

var (
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidMessage    = errors.New("invalid_message")
	ErrInvalidType       = errors.New("invalid_type")
	ErrRecipientNotFound = errors.New("recipient_not_found")
	ErrNotFound          = errors.New("not_found")
	ErrUnauthorized      = errors.New("unauthorized")
)
