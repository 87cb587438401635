// Package domain contains persistence models for tenant shops: the billing
// record that gates processing and the settings record that tracks the
// in-flight operation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ProcessState is the lifecycle state of a shop's current operation.
type ProcessState string

const (
	ProcessStateIdle       ProcessState = "IDLE"
	ProcessStateProcessing ProcessState = "PROCESSING"
	ProcessStateLimited    ProcessState = "LIMITED"
	ProcessStateFailed     ProcessState = "FAILED"
	ProcessStateCompleted  ProcessState = "COMPLETED"
	ProcessStateRemoving   ProcessState = "REMOVING"
)

// Outstanding reports whether the state represents an operation that is still
// waiting on an external completion signal. At most one outstanding operation
// is tracked per shop; a new dispatch must be rejected while one exists.
func (s ProcessState) Outstanding() bool {
	return s == ProcessStateProcessing || s == ProcessStateRemoving
}

// ProcessStatus is the single live status value per shop. It is not a log:
// each transition overwrites the previous value.
type ProcessStatus struct {
	State        ProcessState `gorm:"column:process_state;type:text;not null;default:IDLE" json:"state"`
	OperationID  string       `gorm:"column:process_operation_id;type:text" json:"operationId,omitempty"`
	PlannedCount int          `gorm:"column:process_planned_count;not null;default:0" json:"plannedCount"`
	UpdatedAt    time.Time    `gorm:"column:process_updated_at" json:"updatedAt"`
}

// SelectionMode scopes which products a run covers.
type SelectionMode string

const (
	SelectionAll         SelectionMode = "all"
	SelectionProducts    SelectionMode = "products"
	SelectionCollections SelectionMode = "collections"
)

// WatermarkConfig holds the mark parameters handed to the pipeline.
type WatermarkConfig struct {
	OpacityPercent int    `json:"opacityPercent"`
	Position       string `json:"position"`
	ScalePercent   int    `json:"scalePercent"`
}

// ActiveConfig is the snapshot of the shop's editable settings taken at the
// moment a run is authorized. Edits made after dispatch do not affect an
// in-flight run.
type ActiveConfig struct {
	Selection          SelectionMode   `json:"selection"`
	ProductIDs         []string        `json:"productIds,omitempty"`
	CollectionIDs      []string        `json:"collectionIds,omitempty"`
	FeaturedOnly       bool            `json:"featuredOnly"`
	Watermark          WatermarkConfig `json:"watermark"`
	CompressionQuality int             `json:"compressionQuality"`
}

// ShopBillingRecord gates processing for one tenant. Owned exclusively by the
// orchestrator; trialEndsAt is fixed at first trial start and never recomputed
// from a later external trial offer.
type ShopBillingRecord struct {
	ID                   snowflake.ID `gorm:"primaryKey"`
	ShopID               string       `gorm:"type:text;not null;uniqueIndex"`
	ShopDomain           string       `gorm:"type:text;not null"`
	Email                string       `gorm:"type:text"`
	AccessToken          string       `gorm:"type:text"`
	IsPaidUser           bool         `gorm:"not null;default:false"`
	TrialEverStarted     bool         `gorm:"not null;default:false"`
	TrialEndsAt          *time.Time   `gorm:""`
	StarterPlanUser      bool         `gorm:"not null;default:false"`
	StarterPlanStartedAt *time.Time   `gorm:""`
	MarkedImagesCount    int64        `gorm:"not null;default:0"`
	LedgerToken          string       `gorm:"type:text"`
	CreatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ShopBillingRecord) TableName() string { return "shop_billing_records" }

// ShopSettings holds the editable watermark settings plus the live
// ProcessStatus. Version backs the optimistic compare-and-set that serializes
// concurrent webhook deliveries for the same shop.
type ShopSettings struct {
	ID           snowflake.ID                        `gorm:"primaryKey"`
	ShopID       string                              `gorm:"type:text;not null;uniqueIndex"`
	IsActive     bool                                `gorm:"not null;default:false"`
	ActiveConfig datatypes.JSONType[ActiveConfig]    `gorm:"column:active_config"`
	Status       ProcessStatus                       `gorm:"embedded" json:"status"`
	Version      int64                               `gorm:"not null;default:0"`
	CreatedAt    time.Time                           `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time                           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ShopSettings) TableName() string { return "shop_settings" }
