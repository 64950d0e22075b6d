package adyen

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "44782def547aaa06c910c43932b1eb0c71fc68d9d0c057550c48ec2acf6ba056"

func signedPayload(t *testing.T, item NotificationRequestItem) []byte {
	t.Helper()
	key, err := hex.DecodeString(testKey)
	require.NoError(t, err)
	item.AdditionalData = map[string]string{"hmacSignature": Sign(key, item)}
	payload, err := json.Marshal(notificationRoot{NotificationItems: []notificationItem{{NotificationRequestItem: item}}})
	require.NoError(t, err)
	return payload
}

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{WebhookSecret: testKey})
	require.NoError(t, err)
	return adapter.(*Adapter)
}

func authorisation(success string) NotificationRequestItem {
	return NotificationRequestItem{
		Amount:              Amount{Currency: "USD", Value: 4250},
		EventCode:           "AUTHORISATION",
		EventDate:           "2026-03-01T12:00:00+01:00",
		MerchantAccountCode: "StorefrontECOM",
		MerchantReference:   "1234567890",
		PspReference:        "PSP:1",
		Success:             success,
	}
}

func TestNewAdapterRejectsNonHexKey(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{WebhookSecret: "not-hex"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestVerifyItemSignature(t *testing.T) {
	adapter := newAdapter(t)
	payload := signedPayload(t, authorisation("true"))
	require.NoError(t, adapter.Verify(context.Background(), payload, http.Header{}))

	var root notificationRoot
	require.NoError(t, json.Unmarshal(payload, &root))
	root.NotificationItems[0].NotificationRequestItem.Amount.Value = 1
	forged, err := json.Marshal(root)
	require.NoError(t, err)
	assert.ErrorIs(t, adapter.Verify(context.Background(), forged, http.Header{}), paymentdomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(context.Background(), []byte(`{"notificationItems":[]}`), nil), paymentdomain.ErrInvalidPayload)
}

func TestParseAuthorisation(t *testing.T) {
	adapter := newAdapter(t)

	event, err := adapter.Parse(context.Background(), signedPayload(t, authorisation("true")))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypePaymentSucceeded, event.Type)
	assert.Equal(t, "1234567890", event.OrderID.String())
	assert.Equal(t, "PSP:1_AUTHORISATION", event.ProviderEventID)
	assert.Equal(t, int64(4250), event.Amount)
	assert.Equal(t, "usd", event.Currency)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), event.OccurredAt)

	event, err = adapter.Parse(context.Background(), signedPayload(t, authorisation("false")))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypePaymentFailed, event.Type)
}

func TestParseIgnoresAndRejects(t *testing.T) {
	adapter := newAdapter(t)

	refund := authorisation("true")
	refund.EventCode = "REFUND"
	_, err := adapter.Parse(context.Background(), signedPayload(t, refund))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)

	noRef := authorisation("true")
	noRef.MerchantReference = "cart-17"
	event, err := adapter.Parse(context.Background(), signedPayload(t, noRef))
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(0), event.OrderID)
	assert.Equal(t, paymentdomain.EventTypePaymentSucceeded, event.Type)
}
