package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/order/domain"
	productdomain "github.com/smallbiznis/storefront/internal/product/domain"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxLines             = 100
	maxQuantity          = 1000
	maxIdempotencyKeyLen = 255
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cfg      config.Config
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Products productdomain.Service
	Trigger  domain.StatusTrigger `optional:"true"`
	Metrics  *metrics.Metrics     `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	products productdomain.Service
	trigger  domain.StatusTrigger
	metrics  *metrics.Metrics
	currency string
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	currency := strings.ToLower(strings.TrimSpace(p.Cfg.Payment.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("order.service"),
		genID:    p.GenID,
		clock:    clk,
		repo:     p.Repo,
		products: p.Products,
		trigger:  p.Trigger,
		metrics:  p.Metrics,
		currency: currency,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	principal, ok := usercontext.FromContext(ctx)
	if !ok {
		return nil, domain.ErrUnauthorized
	}

	address := strings.TrimSpace(req.ShippingAddress)
	if address == "" {
		return nil, domain.ErrInvalidShippingAddress
	}
	if len(req.Items) == 0 || len(req.Items) > maxLines {
		return nil, domain.ErrInvalidItems
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return nil, domain.ErrInvalidIdempotencyKey
	}
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, principal.UserID, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.withItems(ctx, s.db, existing)
		}
	}

	productIDs := make([]snowflake.ID, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 || item.Quantity > maxQuantity {
			return nil, domain.ErrInvalidQuantity
		}
		id, err := snowflake.ParseString(strings.TrimSpace(item.ProductID))
		if err != nil || id == 0 {
			return nil, domain.ErrInvalidItems
		}
		productIDs = append(productIDs, id)
	}

	catalog, err := s.products.Lookup(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	order := domain.Order{
		ID:              s.genID.Generate(),
		UserID:          principal.UserID,
		Status:          domain.StatusPending,
		Currency:        s.currency,
		ShippingAddress: address,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	total := decimal.Zero
	for i, item := range req.Items {
		product, ok := catalog[productIDs[i]]
		if !ok {
			return nil, domain.ErrUnknownProduct
		}
		if !strings.EqualFold(product.Currency, s.currency) {
			return nil, domain.ErrMixedCurrency
		}
		line := domain.Item{
			OrderID:     order.ID,
			LineNo:      i + 1,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		}
		total = total.Add(line.Subtotal())
		order.Items = append(order.Items, line)
	}
	order.Total = total.Round(2)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, &order)
	})
	if err != nil {
		if key != "" && db.IsDuplicateKeyErr(err) {
			// a concurrent request with the same key won
			existing, findErr := s.repo.FindByIdempotencyKey(ctx, s.db, principal.UserID, key)
			if findErr != nil {
				return nil, findErr
			}
			if existing != nil {
				return s.withItems(ctx, s.db, existing)
			}
		}
		s.log.Error("failed to create order", zap.Error(err), zap.String("user_id", principal.UserID.String()))
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("lines", len(order.Items)),
	)
	return &order, nil
}

// GetByID hides orders of other customers behind ErrNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	principal, ok := usercontext.FromContext(ctx)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	orderID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || (order.UserID != principal.UserID && !principal.IsAdmin()) {
		return nil, domain.ErrNotFound
	}
	return s.withItems(ctx, s.db, order)
}

func (s *Service) ListMine(ctx context.Context, req domain.ListOrderRequest) (*domain.ListOrderResponse, error) {
	userID, ok := usercontext.UserIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	return s.list(ctx, &userID, req)
}

func (s *Service) ListAll(ctx context.Context, req domain.ListOrderRequest) (*domain.ListOrderResponse, error) {
	return s.list(ctx, nil, req)
}

func (s *Service) list(ctx context.Context, userID *snowflake.ID, req domain.ListOrderRequest) (*domain.ListOrderResponse, error) {
	filter := domain.ListFilter{
		UserID: userID,
		Limit:  req.Limit() + 1,
	}

	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := domain.Status(strings.ToLower(raw))
		if !status.Valid() {
			return nil, domain.ErrInvalidStatus
		}
		filter.Status = &status
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return nil, domain.ErrInvalidPageToken
	}
	if cursor != nil {
		before, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		filter.BeforeID = before
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	rows, pageInfo, err := pagination.Page(rows, req.Limit(), func(o domain.Order) pagination.Cursor {
		return pagination.Cursor{ID: o.ID.String()}
	})
	if err != nil {
		return nil, err
	}

	ids := make([]snowflake.ID, 0, len(rows))
	for _, o := range rows {
		ids = append(ids, o.ID)
	}
	items, err := s.repo.FindItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Items = items[rows[i].ID]
	}

	if rows == nil {
		rows = []domain.Order{}
	}
	return &domain.ListOrderResponse{Orders: rows, PageInfo: pageInfo}, nil
}

func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (*domain.Order, error) {
	orderID, err := parseID(req.OrderID)
	if err != nil {
		return nil, err
	}
	target := domain.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	var transition *domain.Transition
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.Load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		transition, err = s.ApplyTransition(ctx, tx, *order, target, domain.ActorAdmin)
		return err
	})
	if err != nil {
		if !isClientError(err) {
			s.log.Error("failed to update order status", zap.Error(err), zap.String("order_id", orderID.String()))
		}
		return nil, err
	}
	transition.Committed()

	return s.withItems(ctx, s.db, &transition.Order)
}

func (s *Service) ExpireStalePending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	candidates, err := s.repo.FindStalePending(ctx, s.db, cutoff, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range candidates {
		var transition *domain.Transition
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			order, err := s.Load(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if order.PaymentIntentID != nil {
				return domain.ErrTransitionNotAllowed
			}
			transition, err = s.ApplyTransition(ctx, tx, *order, domain.StatusCancelled, domain.ActorSystem)
			return err
		})
		switch {
		case err == nil:
			transition.Committed()
			expired++
		case isClientError(err):
			// paid or picked up a payment intent since the scan
			continue
		default:
			return expired, err
		}
	}
	return expired, nil
}

func (s *Service) Load(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) ApplyTransition(ctx context.Context, tx *gorm.DB, order domain.Order, target domain.Status, actor domain.Actor) (*domain.Transition, error) {
	from := order.Status
	if err := domain.ValidateTransition(from, target, actor); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	affected, err := s.repo.CompareAndSetStatus(ctx, tx, order.ID, from, target, now)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrConcurrentUpdate
	}

	order.Status = target
	order.UpdatedAt = now

	var hooks []func()
	if s.trigger != nil {
		hook, err := s.trigger.OrderStatusChanged(ctx, tx, order, from)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}
	hooks = append(hooks, func() {
		s.metrics.RecordOrderTransition(ctx, string(from), string(target), string(actor))
		s.log.Info("order status changed",
			zap.String("order_id", order.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(target)),
			zap.String("actor", string(actor)),
		)
	})

	return domain.NewTransition(order, from, hooks...), nil
}

func (s *Service) AttachPaymentIntent(ctx context.Context, orderID snowflake.ID, intentID string) error {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.ErrInvalidID
	}
	affected, err := s.repo.SetPaymentIntent(ctx, s.db, orderID, intentID, s.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) Stats(ctx context.Context) (*domain.Stats, error) {
	counts, err := s.repo.CountByStatus(ctx, s.db)
	if err != nil {
		return nil, err
	}

	stats := &domain.Stats{
		Counts:   make(map[domain.Status]int64, len(domain.AllStatuses)),
		Currency: s.currency,
	}
	revenueStatuses := make([]domain.Status, 0, len(domain.AllStatuses))
	for _, status := range domain.AllStatuses {
		stats.Counts[status] = counts[status]
		stats.TotalOrders += counts[status]
		if status.Revenue() {
			revenueStatuses = append(revenueStatuses, status)
		}
	}

	revenue, err := s.repo.SumTotals(ctx, s.db, revenueStatuses)
	if err != nil {
		return nil, err
	}
	stats.Revenue = revenue.Round(2)
	return stats, nil
}

func (s *Service) withItems(ctx context.Context, conn *gorm.DB, order *domain.Order) (*domain.Order, error) {
	items, err := s.repo.FindItems(ctx, conn, []snowflake.ID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func isClientError(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrTransitionNotAllowed),
		errors.Is(err, domain.ErrConcurrentUpdate):
		return true
	default:
		return false
	}
}
