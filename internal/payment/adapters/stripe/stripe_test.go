package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, secret string, now time.Time) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		WebhookSecret: secret,
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func signedHeaders(secret string, payload []byte, ts int64) http.Header {
	header := http.Header{}
	stamp := fmt.Sprintf("%d", ts)
	header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", stamp, Sign(secret, stamp, payload)))
	return header
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{WebhookSecret: "  "})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{}}}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newTestAdapter(t, secret, now)

	if err := adapter.Verify(context.Background(), payload, signedHeaders(secret, payload, now.Unix())); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	err := adapter.Verify(context.Background(), payload, signedHeaders("wrong", payload, now.Unix()))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '
	err = adapter.Verify(context.Background(), tampered, signedHeaders(secret, payload, now.Unix()))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	err = adapter.Verify(context.Background(), payload, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyTolerance(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := newTestAdapter(t, secret, now)

	tests := []struct {
		name    string
		ts      time.Time
		wantErr bool
	}{
		{name: "inside window", ts: now.Add(-4 * time.Minute)},
		{name: "slightly ahead", ts: now.Add(30 * time.Second)},
		{name: "stale", ts: now.Add(-6 * time.Minute), wantErr: true},
		{name: "far future", ts: now.Add(10 * time.Minute), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := adapter.Verify(context.Background(), payload, signedHeaders(secret, payload, tt.ts.Unix()))
			if tt.wantErr {
				assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParsePaymentEvent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	orderID := node.Generate()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	adapter := newTestAdapter(t, "whsec", time.Unix(created, 0))

	tests := []struct {
		name     string
		metaKey  string
		typ      string
		wantType string
		amount   int64
	}{
		{name: "succeeded", metaKey: "order_id", typ: "payment_intent.succeeded", wantType: paymentdomain.EventTypePaymentSucceeded, amount: 4250},
		{name: "failed camel metadata", metaKey: "orderId", typ: "payment_intent.payment_failed", wantType: paymentdomain.EventTypePaymentFailed, amount: 4250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(map[string]any{
				"id":      "evt_" + tt.name,
				"type":    tt.typ,
				"created": created,
				"data": map[string]any{
					"object": map[string]any{
						"id":       "pi_1",
						"amount":   4250,
						"currency": "USD",
						"metadata": map[string]any{tt.metaKey: orderID.String()},
					},
				},
			})
			require.NoError(t, err)

			event, err := adapter.Parse(context.Background(), payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, event.Type)
			assert.Equal(t, orderID, event.OrderID)
			assert.Equal(t, tt.amount, event.Amount)
			assert.Equal(t, "usd", event.Currency)
			assert.Equal(t, "pi_1", event.ProviderPaymentID)
			assert.Equal(t, "stripe", event.Provider)
			assert.Equal(t, time.Unix(created, 0).UTC(), event.OccurredAt)
		})
	}
}

func TestParseRejectsAndIgnores(t *testing.T) {
	adapter := newTestAdapter(t, "whsec", time.Now())

	_, err := adapter.Parse(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = adapter.Parse(context.Background(), []byte(`{"type":"payment_intent.succeeded"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = adapter.Parse(context.Background(), []byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{}}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)

}

func TestParseWithoutUsableOrderReference(t *testing.T) {
	adapter := newTestAdapter(t, "whsec", time.Now())

	payloads := map[string]string{
		"empty metadata": `{"id":"evt_3","type":"payment_intent.succeeded","data":{"object":{"id":"pi","metadata":{}}}}`,
		"no metadata":    `{"id":"evt_4","type":"payment_intent.payment_failed","data":{"object":{"id":"pi"}}}`,
		"not an id":      `{"id":"evt_5","type":"payment_intent.succeeded","data":{"object":{"id":"pi","metadata":{"order_id":"cart-17"}}}}`,
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			event, err := adapter.Parse(context.Background(), []byte(payload))
			require.NoError(t, err)
			assert.Equal(t, snowflake.ID(0), event.OrderID)
			assert.NotEmpty(t, event.ProviderEventID)
		})
	}
}

func TestGatewayCreateIntent(t *testing.T) {
	var got url.Values
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		got, _ = url.ParseQuery(string(body))
		auth, _, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret_abc"}`))
	}))
	defer server.Close()

	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		WebhookSecret: "whsec",
		APIKey:        "sk_test",
		BaseURL:       server.URL,
		HTTPClient:    server.Client(),
	})
	require.NoError(t, err)

	gateway, ok := adapter.(paymentdomain.Gateway)
	require.True(t, ok)

	intent, err := gateway.CreateIntent(context.Background(), paymentdomain.IntentRequest{
		OrderID:  snowflake.ID(77),
		Amount:   4250,
		Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, "sk_test", auth)
	assert.Equal(t, "4250", got.Get("amount"))
	assert.Equal(t, "usd", got.Get("currency"))
	assert.Equal(t, "77", got.Get("metadata[order_id]"))
}

func TestGatewayErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"amount too small"}}`))
	}))
	defer server.Close()

	gateway := newGateway(paymentdomain.AdapterConfig{APIKey: "sk", BaseURL: server.URL, HTTPClient: server.Client()})
	req := paymentdomain.IntentRequest{OrderID: 1, Amount: 1, Currency: "usd"}

	_, err := gateway.CreateIntent(context.Background(), req)
	assert.True(t, errors.Is(err, paymentdomain.ErrGatewayRejected), "got %v", err)

	status.Store(http.StatusServiceUnavailable)
	_, err = gateway.CreateIntent(context.Background(), req)
	assert.True(t, errors.Is(err, paymentdomain.ErrGatewayUnavailable), "got %v", err)

	_, err = newGateway(paymentdomain.AdapterConfig{}).CreateIntent(context.Background(), req)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}
