package health

import (
	"go.uber.org/fx"
)

var Module = fx.Module("health",
	fx.Provide(
		NewHandler,
		NewRunsHandler,
	),
	fx.Invoke(RegisterRoutes),
)
