// Package pipeline runs the batch jobs: transform (logs to gold zone), prep
// (gold zone to evaluation input) and write-metrics (evaluator output to
// metric facts).
package pipeline

import (
	"context"
	"log/slog"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/emergent-company/goldzone/domain/evalmetrics"
	"github.com/emergent-company/goldzone/domain/goldzone"
	"github.com/emergent-company/goldzone/domain/mapping"
	"github.com/emergent-company/goldzone/domain/transform"
	"github.com/emergent-company/goldzone/internal/config"
	"github.com/emergent-company/goldzone/internal/tablestore"
	"github.com/emergent-company/goldzone/pkg/apperror"
	"github.com/emergent-company/goldzone/pkg/logger"
)

// Job names used in logs and metrics.
const (
	JobTransform    = "transform"
	JobPrep         = "prep"
	JobWriteMetrics = "write-metrics"
)

// Extra columns added to every transformed row.
const (
	ColumnChatbotName = "chatbot_name"
)

// AppDirectory reads the relational application dimension.
type AppDirectory interface {
	List(ctx context.Context) ([]goldzone.AppRow, error)
	FindByNameType(ctx context.Context, name, appType string) (*goldzone.AppRow, error)
}

// Params are the pipeline's dependencies.
type Params struct {
	fx.In

	Config     *config.Config
	Mappings   mapping.List
	Fetcher    transform.LogFetcher
	Reconciler *goldzone.Reconciler
	Apps       AppDirectory
	Tables     *tablestore.Store
	Metrics    *evalmetrics.Reconciler
	Log        *slog.Logger
}

// Pipeline wires the stages of every job.
type Pipeline struct {
	cfg         config.PipelineConfig
	mappings    mapping.List
	fetcher     transform.LogFetcher
	transformer *transform.Transformer
	reconciler  *goldzone.Reconciler
	apps        AppDirectory
	tables      *tablestore.Store
	metrics     *evalmetrics.Reconciler
	log         *slog.Logger

	now     func() time.Time
	newID   func() string
	running atomic.Bool
}

// New creates a pipeline.
func New(p Params) *Pipeline {
	return &Pipeline{
		cfg:         p.Config.Pipeline,
		mappings:    p.Mappings,
		fetcher:     p.Fetcher,
		transformer: transform.NewTransformer(p.Log, transform.SkipMalformed),
		reconciler:  p.Reconciler,
		apps:        p.Apps,
		tables:      p.Tables,
		metrics:     p.Metrics,
		log:         p.Log.With(logger.Scope("pipeline")),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// dimKey returns the object key of a dimension table.
func (p *Pipeline) dimKey(name string) string {
	return path.Join(p.cfg.DimPath, name+".jsonl")
}

// acquire guards against overlapping transform runs. Reconciliation must not
// run twice against the same dimension set at once.
func (p *Pipeline) acquire() (release func(), err error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, apperror.ErrConflict
	}
	return func() { p.running.Store(false) }, nil
}

// Running reports whether a transform run is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}
