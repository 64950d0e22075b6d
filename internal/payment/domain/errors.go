package domain

import "errors"

var (
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidOrderReference = errors.New("invalid_order_reference")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrEventInFlight         = errors.New("event_in_flight")
	ErrGatewayUnavailable    = errors.New("gateway_unavailable")
	ErrGatewayRejected       = errors.New("gateway_rejected")
	ErrOrderNotPayable       = errors.New("order_not_payable")
	ErrUnauthorized          = errors.New("unauthorized")
)
