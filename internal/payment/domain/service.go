package domain

import (
	"context"
	"net/http"
)

type Service interface {
	// HandleWebhook verifies, decodes and reconciles one provider delivery.
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*ProcessResult, error)
	ProcessEvent(ctx context.Context, event *PaymentEvent) (*ProcessResult, error)
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*CreateIntentResponse, error)
}
