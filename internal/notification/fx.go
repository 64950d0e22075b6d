package notification

import (
	"context"

	"github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/internal/notification/repository"
	"github.com/smallbiznis/storefront/internal/notification/service"
	"github.com/smallbiznis/storefront/internal/notification/trigger"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/internal/realtime"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(h *realtime.Hub) trigger.Pusher { return h }),
	fx.Provide(trigger.NewDispatcher),
	fx.Provide(trigger.New),
	fx.Provide(func(t *trigger.Trigger) orderdomain.StatusTrigger { return t }),
	fx.Provide(func(t *trigger.Trigger) domain.Publisher { return t }),
	fx.Provide(service.New),
	fx.Invoke(runDispatcher),
)

func runDispatcher(lc fx.Lifecycle, d *trigger.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return d.Stop(ctx)
		},
	})
}
