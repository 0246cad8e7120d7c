package pipeline

import (
	"go.uber.org/fx"

	"github.com/emergent-company/goldzone/domain/goldzone"
	"github.com/emergent-company/goldzone/domain/mapping"
	"github.com/emergent-company/goldzone/internal/config"
)

var Module = fx.Module("pipeline",
	fx.Provide(
		LoadMappings,
		func(r *goldzone.AppRepository) AppDirectory { return r },
		New,
	),
)

// LoadMappings reads and validates the configured mapping file.
func LoadMappings(cfg *config.Config) (mapping.List, error) {
	return mapping.Load(cfg.Pipeline.MappingFile)
}
