// Package trigger turns order status changes into stored notifications and
// pushes them to live connections once the change commits.
package trigger

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Templates  *config.MessageTemplateHolder
	Dispatcher *Dispatcher
	Metrics    *metrics.Metrics `optional:"true"`
}

type Trigger struct {
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	templates  *config.MessageTemplateHolder
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
}

func New(p Params) *Trigger {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Trigger{
		log:        p.Log.Named("notification.trigger"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		templates:  p.Templates,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,
	}
}

// OrderStatusChanged stores the customer's notification through tx. A store
// failure is returned so the status change rolls back with it.
func (t *Trigger) OrderStatusChanged(ctx context.Context, tx *gorm.DB, order orderdomain.Order, from orderdomain.Status) (func(), error) {
	orderID := order.ID
	n := domain.Notification{
		ID:        t.genID.Generate(),
		UserID:    order.UserID,
		Message:   t.templates.Get().Render(order.ID.String(), string(order.Status)),
		Type:      domain.TypeOrder,
		OrderID:   &orderID,
		CreatedAt: t.clock.Now(),
	}
	if err := t.repo.Insert(ctx, tx, &n); err != nil {
		return nil, fmt.Errorf("store order notification: %w", err)
	}

	t.log.Debug("order notification stored",
		zap.String("notification_id", n.ID.String()),
		zap.String("order_id", order.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status)),
	)
	return func() { t.Publish(n) }, nil
}

// Publish hands a committed notification to the dispatcher.
func (t *Trigger) Publish(n domain.Notification) {
	t.metrics.RecordNotificationCreated(context.Background(), string(n.Type))
	if t.dispatcher == nil {
		return
	}
	t.dispatcher.Enqueue(n.View())
}
