package evalmetrics

import (
	"time"

	"github.com/uptrace/bun"
)

// Metric types a DIM_METRIC row may declare.
const (
	MetricTypeNumerical   = "numerical"
	MetricTypeCategorical = "categorical"
)

// Audit values written by the pipeline.
const (
	SystemUser           = "system"
	DefaultEvaluatorType = "llm"
)

// DimMetric identifies a metric by (metric_name, metric_version).
type DimMetric struct {
	bun.BaseModel `bun:"table:dim_metric,alias:dm"`

	MetricID      int64     `bun:"metric_id,pk,autoincrement" json:"metric_id"`
	MetricName    string    `bun:"metric_name,notnull" json:"metric_name"`
	MetricVersion string    `bun:"metric_version,notnull" json:"metric_version"`
	MetricType    string    `bun:"metric_type" json:"metric_type"`
	EvaluatorName string    `bun:"evaluator_name" json:"evaluator_name"`
	EvaluatorType string    `bun:"evaluator_type" json:"evaluator_type"`
	CreatedBy     string    `bun:"created_by" json:"created_by"`
	CreatedDate   time.Time `bun:"created_date,notnull,default:current_timestamp" json:"created_date"`
	UpdatedBy     string    `bun:"updated_by" json:"updated_by"`
	UpdatedDate   time.Time `bun:"updated_date" json:"updated_date"`
}

// FactEvaluationMetric is one evaluator score for one evaluation dataset row.
// At most one of MetricNumericValue and MetricStrValue is set; both are nil
// when a numerical score did not parse and only the raw value is kept.
type FactEvaluationMetric struct {
	bun.BaseModel `bun:"table:fact_evaluation_metric,alias:fem"`

	FactID              int64     `bun:"fact_id,pk,autoincrement" json:"fact_id"`
	MetricID            int64     `bun:"metric_id,notnull" json:"metric_id"`
	EvaluationDatasetID string    `bun:"evaluation_dataset_id,notnull" json:"evaluation_dataset_id"`
	AppID               *int64    `bun:"app_id" json:"app_id,omitempty"`
	ConversationID      string    `bun:"conversation_id" json:"conversation_id"`
	SessionID           *string   `bun:"session_id" json:"session_id,omitempty"`
	MetadataID          string    `bun:"metadata_id" json:"metadata_id"`
	EvaluatorMetadata   *string   `bun:"evaluator_metadata" json:"evaluator_metadata,omitempty"`
	MetricNumericValue  *float64  `bun:"metric_numeric_value" json:"metric_numeric_value"`
	MetricStrValue      *string   `bun:"metric_str_value" json:"metric_str_value"`
	MetricRawValue      string    `bun:"metric_raw_value" json:"metric_raw_value"`
	FactCreationTime    time.Time `bun:"fact_creation_time" json:"fact_creation_time"`
	CreatedBy           string    `bun:"created_by" json:"created_by"`
	CreatedDate         time.Time `bun:"created_date,notnull,default:current_timestamp" json:"created_date"`
	UpdatedBy           string    `bun:"updated_by" json:"updated_by"`
	UpdatedDate         time.Time `bun:"updated_date" json:"updated_date"`
}
