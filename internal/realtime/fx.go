package realtime

import "go.uber.org/fx"

var Module = fx.Module("realtime.hub",
	fx.Provide(
		fx.Annotate(NewMemoryRegistry, fx.As(new(GroupRegistry))),
		NewHub,
	),
)
