package domain

import "errors"

var (
	ErrInvalidID              = errors.New("invalid_id")
	ErrInvalidItems           = errors.New("invalid_items")
	ErrInvalidQuantity        = errors.New("invalid_quantity")
	ErrUnknownProduct         = errors.New("unknown_product")
	ErrMixedCurrency          = errors.New("mixed_currency")
	ErrInvalidShippingAddress = errors.New("invalid_shipping_address")
	ErrInvalidIdempotencyKey  = errors.New("invalid_idempotency_key")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrInvalidTransition      = errors.New("invalid_transition")
	ErrTransitionNotAllowed   = errors.New("transition_not_allowed")
	ErrConcurrentUpdate       = errors.New("concurrent_update")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
	ErrNotFound               = errors.New("not_found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrReceiptUnavailable     = errors.New("receipt_unavailable")
)
