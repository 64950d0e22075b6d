package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	notificationdomain "github.com/smallbiznis/storefront/internal/notification/domain"
	notificationrepo "github.com/smallbiznis/storefront/internal/notification/repository"
	"github.com/smallbiznis/storefront/internal/notification/trigger"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	orderrepo "github.com/smallbiznis/storefront/internal/order/repository"
	ordersvc "github.com/smallbiznis/storefront/internal/order/service"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/stripe"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	productrepo "github.com/smallbiznis/storefront/internal/product/repository"
	productsvc "github.com/smallbiznis/storefront/internal/product/service"
	"github.com/smallbiznis/storefront/internal/storetest"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userID     = snowflake.ID(1)
	strangerID = snowflake.ID(2)
	mugID      = snowflake.ID(10)
	posterID   = snowflake.ID(11)
	secret     = "whsec_test"
)

type capturePusher struct {
	mu  sync.Mutex
	got []notificationdomain.View
}

func (p *capturePusher) SendToGroup(_ context.Context, _ snowflake.ID, n notificationdomain.View) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, n)
	return 1, nil
}

func (p *capturePusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

type failingTrigger struct{ err error }

func (f failingTrigger) OrderStatusChanged(context.Context, *gorm.DB, orderdomain.Order, orderdomain.Status) (func(), error) {
	return nil, f.err
}

type fakeGateway struct {
	calls []domain.IntentRequest
	err   error
}

func (g *fakeGateway) CreateIntent(_ context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &domain.Intent{ID: "pi_" + req.OrderID.String(), ClientSecret: "secret_" + req.OrderID.String()}, nil
}

type fixture struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	orders  orderdomain.Service
	svc     domain.Service
	pusher  *capturePusher
	gateway *fakeGateway
}

type option func(*orderParams)

type orderParams struct {
	trigger orderdomain.StatusTrigger
}

func withTrigger(t orderdomain.StatusTrigger) option {
	return func(p *orderParams) { p.trigger = t }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	db := storetest.OpenDB(t)
	storetest.SeedUser(t, db, userID, "u1@example.com", usercontext.RoleCustomer)
	storetest.SeedUser(t, db, strangerID, "u2@example.com", usercontext.RoleCustomer)
	storetest.SeedProduct(t, db, mugID, "Mug", "12.50")
	storetest.SeedProduct(t, db, posterID, "Poster", "17.50")

	node := storetest.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Payment: config.PaymentConfig{
			Currency:         "usd",
			WebhookSecrets:   map[string]string{"stripe": secret},
			WebhookTolerance: 5 * time.Minute,
		},
	}

	pusher := &capturePusher{}
	dispatcher := trigger.NewDispatcher(trigger.DispatcherParams{Log: zap.NewNop(), Cfg: cfg, Pusher: pusher})
	dispatcher.Start()
	t.Cleanup(func() { _ = dispatcher.Stop(context.Background()) })

	params := orderParams{
		trigger: trigger.New(trigger.Params{
			Log:        zap.NewNop(),
			GenID:      node,
			Clock:      clk,
			Repo:       notificationrepo.Provide(),
			Templates:  config.NewStaticMessageTemplateHolder(config.DefaultMessageTemplates()),
			Dispatcher: dispatcher,
		}),
	}
	for _, opt := range opts {
		opt(&params)
	}

	orders := ordersvc.New(ordersvc.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      cfg,
		GenID:    node,
		Clock:    clk,
		Repo:     orderrepo.Provide(),
		Products: productsvc.New(productsvc.Params{DB: db, Log: zap.NewNop(), Repo: productrepo.Provide()}),
		Trigger:  params.trigger,
	})

	gateway := &fakeGateway{}
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Cfg:      cfg,
		GenID:    node,
		Clock:    clk,
		Repo:     repository.Provide(),
		Registry: adapters.NewDefaultRegistry(),
		Orders:   orders,
		Gateway:  gateway,
	})

	return &fixture{db: db, clock: clk, orders: orders, svc: svc, pusher: pusher, gateway: gateway}
}

func as(id snowflake.ID) context.Context {
	return usercontext.WithPrincipal(context.Background(), usercontext.Principal{UserID: id, Role: usercontext.RoleCustomer})
}

// placeOrder creates a 42.50 order: two mugs and a poster.
func (f *fixture) placeOrder(t *testing.T) *orderdomain.Order {
	t.Helper()
	order, err := f.orders.Create(as(userID), orderdomain.CreateOrderRequest{
		Items: []orderdomain.ItemRequest{
			{ProductID: mugID.String(), Quantity: 2},
			{ProductID: posterID.String(), Quantity: 1},
		},
		ShippingAddress: "1 Main St",
	})
	require.NoError(t, err)
	require.Equal(t, "42.50", order.Total.StringFixed(2))
	return order
}

func (f *fixture) webhook(t *testing.T, eventID, eventType string, orderID snowflake.ID) ([]byte, http.Header) {
	t.Helper()
	return f.signedWebhook(t, eventID, eventType, map[string]any{"order_id": orderID.String()})
}

func (f *fixture) signedWebhook(t *testing.T, eventID, eventType string, metadata map[string]any) ([]byte, http.Header) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": f.clock.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_" + eventID,
				"amount":   4250,
				"currency": "usd",
				"metadata": metadata,
			},
		},
	})
	require.NoError(t, err)

	ts := fmt.Sprintf("%d", f.clock.Now().Unix())
	headers := http.Header{}
	headers.Set("Stripe-Signature", "t="+ts+",v1="+stripe.Sign(secret, ts, payload))
	return payload, headers
}

func (f *fixture) status(t *testing.T, id snowflake.ID) orderdomain.Status {
	t.Helper()
	order, err := f.orders.Load(context.Background(), f.db, id)
	require.NoError(t, err)
	return order.Status
}

func TestDuplicateDeliveryMarksPaidOnce(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	payload, headers := f.webhook(t, "evt_1", "payment_intent.succeeded", order.ID)

	result, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, order.ID, result.OrderID)

	_, err = f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	assert.ErrorIs(t, err, domain.ErrEventAlreadyProcessed)

	assert.Equal(t, orderdomain.StatusPaid, f.status(t, order.ID))
	assert.Equal(t, int64(1), storetest.Count(t, f.db, "payment_events", "provider = 'stripe' AND provider_event_id = 'evt_1' AND outcome = 'applied'"))
	assert.Equal(t, int64(1), storetest.Count(t, f.db, "notifications", "user_id = ? AND type = 'order'", userID))
	require.Eventually(t, func() bool { return f.pusher.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.pusher.count())
}

func TestConcurrentRedeliveryAppliesOnce(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	payload, headers := f.webhook(t, "evt_race", "payment_intent.succeeded", order.ID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrEventAlreadyProcessed)
				return
			}
			mu.Lock()
			if result.Outcome == domain.OutcomeApplied {
				applied++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, orderdomain.StatusPaid, f.status(t, order.ID))
	assert.Equal(t, int64(1), storetest.Count(t, f.db, "notifications", "order_id = ?", order.ID))
}

func TestInvalidSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	payload, headers := f.webhook(t, "evt_forged", "payment_intent.succeeded", order.ID)
	headers.Set("Stripe-Signature", "t=1,v1=deadbeef")

	_, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Equal(t, orderdomain.StatusPending, f.status(t, order.ID))
	assert.Equal(t, int64(0), storetest.Count(t, f.db, "payment_events", ""))
}

func TestStaleSignatureRejected(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	payload, headers := f.webhook(t, "evt_late", "payment_intent.succeeded", order.ID)
	f.clock.Advance(6 * time.Minute)

	_, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	assert.Equal(t, orderdomain.StatusPending, f.status(t, order.ID))
}

func TestUnknownAndUnconfiguredProviders(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	// registered but no HMAC key configured
	_, err = f.svc.HandleWebhook(context.Background(), "adyen", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestIgnoredEventTypeIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	payload, headers := f.webhook(t, "evt_refund", "charge.refunded", order.ID)

	_, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	assert.ErrorIs(t, err, domain.ErrEventIgnored)
	assert.Equal(t, int64(0), storetest.Count(t, f.db, "payment_events", ""))
}

func TestUnknownOrderIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	payload, headers := f.webhook(t, "evt_ghost", "payment_intent.succeeded", snowflake.ID(424242))

	result, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOrderNotFound, result.Outcome)
	assert.Equal(t, int64(1), storetest.Count(t, f.db, "payment_events", "outcome = 'order_not_found' AND processed_at IS NOT NULL"))
	assert.Equal(t, int64(0), storetest.Count(t, f.db, "notifications", ""))
}

func TestMissingOrderReferenceIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	cases := []struct {
		eventID  string
		metadata map[string]any
	}{
		{eventID: "evt_no_ref", metadata: map[string]any{}},
		{eventID: "evt_bad_ref", metadata: map[string]any{"order_id": "cart-17"}},
	}
	for _, tc := range cases {
		payload, headers := f.signedWebhook(t, tc.eventID, "payment_intent.succeeded", tc.metadata)

		result, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
		require.NoError(t, err, tc.eventID)
		assert.Equal(t, domain.OutcomeOrderNotFound, result.Outcome, tc.eventID)

		_, err = f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
		assert.ErrorIs(t, err, domain.ErrEventAlreadyProcessed, tc.eventID)
	}

	assert.Equal(t, int64(2), storetest.Count(t, f.db, "payment_events",
		"outcome = 'order_not_found' AND order_id IS NULL AND processed_at IS NOT NULL"))
	assert.Equal(t, orderdomain.StatusPending, f.status(t, order.ID))
	assert.Equal(t, int64(0), storetest.Count(t, f.db, "notifications", ""))
}

func TestLateFailureAfterPaidIsRejected(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	payload, headers := f.webhook(t, "evt_ok", "payment_intent.succeeded", order.ID)
	_, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	require.NoError(t, err)

	payload, headers = f.webhook(t, "evt_fail", "payment_intent.payment_failed", order.ID)
	result, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTransitionRejected, result.Outcome)

	assert.Equal(t, orderdomain.StatusPaid, f.status(t, order.ID))
	assert.Equal(t, int64(1), storetest.Count(t, f.db, "notifications", "order_id = ?", order.ID))
}

func TestFailedPaymentCancelsPendingOrder(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	payload, headers := f.webhook(t, "evt_declined", "payment_intent.payment_failed", order.ID)

	result, err := f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, orderdomain.StatusCancelled, f.status(t, order.ID))
}

func TestTransientFailureRollsBackLedgerRow(t *testing.T) {
	storeDown := errors.New("notification store unavailable")
	f := newFixture(t, withTrigger(failingTrigger{err: storeDown}))
	order := f.placeOrder(t)

	_, err := f.svc.ProcessEvent(context.Background(), &domain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_retry",
		Type:            domain.EventTypePaymentSucceeded,
		OrderID:         order.ID,
	})
	assert.ErrorIs(t, err, storeDown)
	assert.Equal(t, orderdomain.StatusPending, f.status(t, order.ID))
	assert.Equal(t, int64(0), storetest.Count(t, f.db, "payment_events", ""))
}

func TestProcessEventValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ProcessEvent(context.Background(), &domain.PaymentEvent{Provider: "stripe", Type: domain.EventTypePaymentSucceeded, OrderID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	result, err := f.svc.ProcessEvent(context.Background(), &domain.PaymentEvent{Provider: "stripe", ProviderEventID: "e", Type: domain.EventTypePaymentSucceeded})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOrderNotFound, result.Outcome)

	_, err = f.svc.ProcessEvent(context.Background(), &domain.PaymentEvent{Provider: "stripe", ProviderEventID: "e", Type: "refund", OrderID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestCreateIntent(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	resp, err := f.svc.CreateIntent(as(userID), domain.CreateIntentRequest{OrderID: order.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "pi_"+order.ID.String(), resp.PaymentIntentID)
	assert.Equal(t, "secret_"+order.ID.String(), resp.ClientSecret)
	require.Len(t, f.gateway.calls, 1)
	assert.Equal(t, int64(4250), f.gateway.calls[0].Amount)
	assert.Equal(t, "usd", f.gateway.calls[0].Currency)

	stored, err := f.orders.Load(context.Background(), f.db, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentIntentID)
	assert.Equal(t, resp.PaymentIntentID, *stored.PaymentIntentID)
}

func TestCreateIntentRules(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	_, err := f.svc.CreateIntent(context.Background(), domain.CreateIntentRequest{OrderID: order.ID.String()})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.CreateIntent(as(strangerID), domain.CreateIntentRequest{OrderID: order.ID.String()})
	assert.ErrorIs(t, err, orderdomain.ErrNotFound)

	payload, headers := f.webhook(t, "evt_paid", "payment_intent.succeeded", order.ID)
	_, err = f.svc.HandleWebhook(context.Background(), "stripe", payload, headers)
	require.NoError(t, err)

	_, err = f.svc.CreateIntent(as(userID), domain.CreateIntentRequest{OrderID: order.ID.String()})
	assert.ErrorIs(t, err, domain.ErrOrderNotPayable)
	assert.Empty(t, f.gateway.calls)
}
