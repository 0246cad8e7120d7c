package evalmetrics

import (
	"go.uber.org/fx"
)

// Module provides the metrics repository and reconciler
var Module = fx.Module("evalmetrics",
	fx.Provide(NewRepository),
	fx.Provide(func(r *Repository) MetricStore { return r }),
	fx.Provide(NewReconciler),
)
