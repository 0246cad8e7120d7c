package goldzone

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/goldzone/internal/config"
)

// Module provides the gold-zone reconciler and the application repository
var Module = fx.Module("goldzone",
	fx.Provide(NewAppRepository),
	fx.Provide(NewReconcilerFromConfig),
)

// NewReconcilerFromConfig picks the schema named by the pipeline config.
func NewReconcilerFromConfig(cfg *config.Config, log *slog.Logger) *Reconciler {
	schema := DefaultSchema()
	if cfg.Pipeline.Schema == "conversation" {
		schema = ConversationSchema()
	}
	return NewReconciler(schema, log)
}
