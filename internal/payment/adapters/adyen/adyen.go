package adyen

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const providerName = "adyen"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

// NewAdapter expects WebhookSecret to hold the hex HMAC key from the
// Adyen customer area.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	key, err := hex.DecodeString(strings.TrimSpace(cfg.WebhookSecret))
	if err != nil || len(key) == 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{hmacKey: key, now: now}, nil
}

type Adapter struct {
	hmacKey []byte
	now     func() time.Time
}

// Verify checks every notification item. Adyen signs items, not the body,
// so one bad item rejects the whole delivery.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	root, err := decode(payload)
	if err != nil {
		return err
	}
	for _, item := range root.NotificationItems {
		req := item.NotificationRequestItem
		signature := req.AdditionalData["hmacSignature"]
		if signature == "" {
			return paymentdomain.ErrInvalidSignature
		}
		if !hmac.Equal([]byte(signature), []byte(Sign(a.hmacKey, req))) {
			return paymentdomain.ErrInvalidSignature
		}
	}
	return nil
}

// Sign computes the base64 item signature.
func Sign(key []byte, item NotificationRequestItem) string {
	parts := []string{
		item.PspReference,
		item.OriginalReference,
		item.MerchantAccountCode,
		item.MerchantReference,
		strconv.FormatInt(item.Amount.Value, 10),
		item.Amount.Currency,
		item.EventCode,
		item.Success,
	}
	escaper := strings.NewReplacer(`\`, `\\`, `:`, `\:`)
	for i, part := range parts {
		parts[i] = escaper.Replace(part)
	}

	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(strings.Join(parts, ":")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Parse reads the first item. Checkout sessions submit one payment per
// merchant reference, so batches carry a single item in practice.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	root, err := decode(payload)
	if err != nil {
		return nil, err
	}
	item := root.NotificationItems[0].NotificationRequestItem
	if strings.TrimSpace(item.PspReference) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch item.EventCode {
	case "AUTHORISATION":
		eventType = paymentdomain.EventTypePaymentFailed
		if item.Success == "true" {
			eventType = paymentdomain.EventTypePaymentSucceeded
		}
	case "OFFER_CLOSED":
		eventType = paymentdomain.EventTypePaymentFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	// zero when the merchant reference is not one of our order ids
	orderID, err := snowflake.ParseString(strings.TrimSpace(item.MerchantReference))
	if err != nil {
		orderID = 0
	}

	return &paymentdomain.PaymentEvent{
		Provider: providerName,
		// pspReference is per payment, not per notification
		ProviderEventID:   item.PspReference + "_" + item.EventCode,
		ProviderPaymentID: item.PspReference,
		Type:              eventType,
		OrderID:           orderID,
		Amount:            item.Amount.Value,
		Currency:          strings.ToLower(item.Amount.Currency),
		OccurredAt:        a.eventDate(item.EventDate),
		RawPayload:        payload,
	}, nil
}

func (a *Adapter) eventDate(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return a.now().UTC()
	}
	return t.UTC()
}

func decode(payload []byte) (*notificationRoot, error) {
	var root notificationRoot
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if len(root.NotificationItems) == 0 {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return &root, nil
}

type notificationRoot struct {
	NotificationItems []notificationItem `json:"notificationItems"`
}

type notificationItem struct {
	NotificationRequestItem NotificationRequestItem `json:"NotificationRequestItem"`
}

type NotificationRequestItem struct {
	AdditionalData      map[string]string `json:"additionalData"`
	Amount              Amount            `json:"amount"`
	EventCode           string            `json:"eventCode"`
	EventDate           string            `json:"eventDate"`
	MerchantAccountCode string            `json:"merchantAccountCode"`
	MerchantReference   string            `json:"merchantReference"`
	OriginalReference   string            `json:"originalReference"`
	PspReference        string            `json:"pspReference"`
	Reason              string            `json:"reason"`
	Success             string            `json:"success"`
}

type Amount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}
