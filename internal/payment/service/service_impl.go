package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/ratelimit"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	lockKeyPrefix  = "payment:webhook:lock:"
	defaultLockTTL = 30 * time.Second
	intentProvider = "stripe"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Registry   *adapters.Registry
	Orders     orderdomain.Service
	Gateway    domain.Gateway      `optional:"true"`
	Locker     *ratelimit.Locker   `optional:"true"`
	Metrics    *metrics.Metrics    `optional:"true"`
	HubMetrics *metrics.HubMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	orders     orderdomain.Service
	adapters   map[string]domain.PaymentAdapter
	gateway    domain.Gateway
	locker     *ratelimit.Locker
	lockTTL    time.Duration
	metrics    *metrics.Metrics
	hubMetrics *metrics.HubMetrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	log := p.Log.Named("payment.service")

	svc := &Service{
		db:         p.DB,
		log:        log,
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		orders:     p.Orders,
		adapters:   map[string]domain.PaymentAdapter{},
		gateway:    p.Gateway,
		locker:     p.Locker,
		lockTTL:    p.Cfg.RateLimit.WebhookLockTTL,
		metrics:    p.Metrics,
		hubMetrics: p.HubMetrics,
	}
	if svc.lockTTL <= 0 {
		svc.lockTTL = defaultLockTTL
	}

	for _, provider := range p.Registry.Providers() {
		secret := strings.TrimSpace(p.Cfg.Payment.WebhookSecrets[provider])
		if secret == "" {
			log.Debug("provider not configured", zap.String("provider", provider))
			continue
		}
		adapter, err := p.Registry.NewAdapter(provider, domain.AdapterConfig{
			WebhookSecret: secret,
			Tolerance:     p.Cfg.Payment.WebhookTolerance,
			APIKey:        p.Cfg.Payment.StripeAPIKey,
			BaseURL:       p.Cfg.Payment.StripeBaseURL,
			Now:           clk.Now,
		})
		if err != nil {
			log.Warn("provider disabled", zap.String("provider", provider), zap.Error(err))
			continue
		}
		svc.adapters[provider] = adapter
	}

	if svc.gateway == nil {
		if gw, ok := svc.adapters[intentProvider].(domain.Gateway); ok && strings.TrimSpace(p.Cfg.Payment.StripeAPIKey) != "" {
			svc.gateway = gw
		}
	}

	return svc
}

func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*domain.ProcessResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, ok := s.adapters[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	if len(payload) == 0 {
		return nil, domain.ErrInvalidPayload
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
		return nil, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			s.log.Debug("webhook ignored", zap.String("provider", provider))
		} else {
			s.log.Warn("webhook unparseable", zap.String("provider", provider), zap.Error(err))
		}
		return nil, err
	}

	return s.ProcessEvent(ctx, event)
}

// ProcessEvent records the event and applies it to its order in one
// transaction. A redelivered event returns ErrEventAlreadyProcessed.
func (s *Service) ProcessEvent(ctx context.Context, event *domain.PaymentEvent) (*domain.ProcessResult, error) {
	target, err := validateEvent(event)
	if err != nil {
		return nil, err
	}

	var (
		result     *domain.ProcessResult
		transition *orderdomain.Transition
		ran        bool
	)
	apply := func(ctx context.Context) error {
		ran = true
		var err error
		result, transition, err = s.apply(ctx, event, target)
		return err
	}

	key := lockKeyPrefix + event.Provider + ":" + event.ProviderEventID
	err = s.locker.WithLock(ctx, key, s.lockTTL, apply)
	if err != nil && !ran && !errors.Is(err, ratelimit.ErrLockHeld) {
		s.log.Warn("webhook lock unavailable", zap.String("key", key), zap.Error(err))
		err = apply(ctx)
	}

	fields := []zap.Field{
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
		zap.String("order_id", event.OrderID.String()),
	}
	switch {
	case errors.Is(err, ratelimit.ErrLockHeld):
		s.log.Info("webhook in flight elsewhere", fields...)
		return nil, domain.ErrEventInFlight
	case errors.Is(err, domain.ErrEventAlreadyProcessed):
		s.log.Info("webhook already processed", fields...)
		return nil, err
	case err != nil:
		s.hubMetrics.IncWebhookFailure(event.Provider, err)
		s.log.Error("webhook processing failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	transition.Committed()
	s.metrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	s.log.Info("webhook processed", append(fields, zap.String("outcome", string(result.Outcome)))...)
	return result, nil
}

func (s *Service) apply(ctx context.Context, event *domain.PaymentEvent, target orderdomain.Status) (*domain.ProcessResult, *orderdomain.Transition, error) {
	var transition *orderdomain.Transition
	outcome := domain.OutcomeApplied

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		orderID := event.OrderID
		var orderRef *snowflake.ID
		if orderID != 0 {
			orderRef = &orderID
		}
		record := &domain.EventRecord{
			ID:              s.genID.Generate(),
			Provider:        event.Provider,
			ProviderEventID: event.ProviderEventID,
			EventType:       event.Type,
			OrderID:         orderRef,
			Payload:         rawPayload(event.RawPayload),
			ReceivedAt:      now,
		}
		inserted, err := s.repo.InsertEvent(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrEventAlreadyProcessed
		}

		if orderRef == nil {
			outcome = domain.OutcomeOrderNotFound
			s.log.Warn("webhook carries no order reference",
				zap.String("provider_event_id", event.ProviderEventID),
				zap.String("event_type", event.Type),
			)
			return s.repo.MarkProcessed(ctx, tx, record.ID, nil, outcome, now)
		}

		order, err := s.orders.Load(ctx, tx, orderID)
		switch {
		case errors.Is(err, orderdomain.ErrNotFound):
			outcome = domain.OutcomeOrderNotFound
			s.log.Warn("webhook references unknown order",
				zap.String("provider_event_id", event.ProviderEventID),
				zap.String("order_id", orderID.String()),
			)
		case err != nil:
			return err
		default:
			s.checkAmount(event, order)
			transition, err = s.orders.ApplyTransition(ctx, tx, *order, target, orderdomain.ActorReconciler)
			switch {
			case errors.Is(err, orderdomain.ErrInvalidTransition), errors.Is(err, orderdomain.ErrTransitionNotAllowed):
				outcome = domain.OutcomeTransitionRejected
				transition = nil
				s.log.Warn("webhook transition rejected",
					zap.String("provider_event_id", event.ProviderEventID),
					zap.String("order_id", orderID.String()),
					zap.String("from", string(order.Status)),
					zap.String("to", string(target)),
				)
			case err != nil:
				return err
			}
		}

		return s.repo.MarkProcessed(ctx, tx, record.ID, orderRef, outcome, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return &domain.ProcessResult{Outcome: outcome, OrderID: event.OrderID}, transition, nil
}

// checkAmount only logs; the gateway is the authority on what was charged.
func (s *Service) checkAmount(event *domain.PaymentEvent, order *orderdomain.Order) {
	if event.Type != domain.EventTypePaymentSucceeded || event.Amount <= 0 {
		return
	}
	expected := order.Total.Shift(2).IntPart()
	if event.Amount != expected || !strings.EqualFold(event.Currency, order.Currency) {
		s.log.Warn("payment amount mismatch",
			zap.String("order_id", order.ID.String()),
			zap.Int64("expected", expected),
			zap.Int64("received", event.Amount),
			zap.String("currency", event.Currency),
		)
	}
}

func (s *Service) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.CreateIntentResponse, error) {
	if _, ok := usercontext.FromContext(ctx); !ok {
		return nil, domain.ErrUnauthorized
	}
	if s.gateway == nil {
		return nil, domain.ErrGatewayUnavailable
	}

	order, err := s.orders.GetByID(ctx, strings.TrimSpace(req.OrderID))
	if err != nil {
		return nil, err
	}
	if order.Status != orderdomain.StatusPending {
		return nil, domain.ErrOrderNotPayable
	}

	intent, err := s.gateway.CreateIntent(ctx, domain.IntentRequest{
		OrderID:        order.ID,
		Amount:         order.Total.Shift(2).IntPart(),
		Currency:       order.Currency,
		IdempotencyKey: "order-" + order.ID.String(),
	})
	if err != nil {
		s.log.Error("failed to create payment intent", zap.String("order_id", order.ID.String()), zap.Error(err))
		return nil, err
	}

	if err := s.orders.AttachPaymentIntent(ctx, order.ID, intent.ID); err != nil {
		if errors.Is(err, orderdomain.ErrNotFound) {
			// paid or cancelled while the gateway call was in flight
			return nil, domain.ErrOrderNotPayable
		}
		return nil, fmt.Errorf("attach payment intent: %w", err)
	}

	return &domain.CreateIntentResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
	}, nil
}

func validateEvent(event *domain.PaymentEvent) (orderdomain.Status, error) {
	if event == nil || strings.TrimSpace(event.Provider) == "" || strings.TrimSpace(event.ProviderEventID) == "" {
		return "", domain.ErrInvalidEvent
	}
	switch event.Type {
	case domain.EventTypePaymentSucceeded:
		return orderdomain.StatusPaid, nil
	case domain.EventTypePaymentFailed:
		return orderdomain.StatusCancelled, nil
	default:
		return "", domain.ErrInvalidEvent
	}
}

func rawPayload(payload []byte) datatypes.JSON {
	if len(payload) == 0 {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(payload)
}
