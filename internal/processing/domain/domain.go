// Package domain defines the orchestrator contract: the processing service
// interface, its events, and its error taxonomy.
package domain

import (
	"context"
	"errors"
	"io"

	"github.com/brandseal/brandseal/internal/commerce"
	"github.com/brandseal/brandseal/internal/pipeline"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

var (
	// ErrOperationInFlight rejects a new dispatch while the shop still has an
	// outstanding operation.
	ErrOperationInFlight = errors.New("operation_in_flight")

	// ErrAllowanceExhausted is a strict denial: no export is requested and the
	// shop is parked in LIMITED.
	ErrAllowanceExhausted = errors.New("allowance_exhausted")

	// ErrUnknownOperation marks a completion signal for an operation the shop
	// is not tracking. Callers acknowledge and drop it.
	ErrUnknownOperation = errors.New("unknown_operation")
)

// ExportCompletedEvent is the export (query) branch of the completion
// webhook, enriched with the operation details read back from the platform.
type ExportCompletedEvent struct {
	ShopID      string
	OperationID string
	Status      string
	URL         string
	ObjectCount int64
}

// TransformCompletedEvent is the apply (mutation) branch of the completion
// webhook.
type TransformCompletedEvent struct {
	ShopID      string
	OperationID string
	Status      string
}

// RemovalCompletedEvent is the removal function's completion signal.
type RemovalCompletedEvent struct {
	ShopID      string
	OperationID string
	Success     bool
}

// AllowanceView is the trial-allowance endpoint payload. Remaining is -1 for
// unlimited (paid) shops.
type AllowanceView struct {
	InTrial    bool  `json:"inTrial"`
	Cap        int   `json:"cap"`
	Used       int64 `json:"used"`
	Remaining  int   `json:"remaining"`
	IsPaidUser bool  `json:"isPaidUser"`
}

// Service is the orchestrator. All operations serialize per shop.
type Service interface {
	EnableProcessing(ctx context.Context, shopID string, cfg shopdomain.ActiveConfig) (*shopdomain.ProcessStatus, error)
	DisableProcessing(ctx context.Context, shopID string) (*shopdomain.ProcessStatus, error)

	// ReconcileBulkOperation resolves a completion webhook: it reads the
	// operation back from the platform and routes to the export or transform
	// branch. Stale or mismatched signals are dropped without error.
	ReconcileBulkOperation(ctx context.Context, shopID, operationID string) error
	HandleExportCompleted(ctx context.Context, evt ExportCompletedEvent) error
	HandleTransformCompleted(ctx context.Context, evt TransformCompletedEvent) error
	HandleRemovalCompleted(ctx context.Context, evt RemovalCompletedEvent) error

	TrialAllowance(ctx context.Context, shopID string) (*AllowanceView, error)
	RecordManualUsage(ctx context.Context, shopID string, count int64) error
}

// CommerceGateway is the slice of the platform client the service uses.
type CommerceGateway interface {
	StartBulkExport(ctx context.Context, creds commerce.Credentials, query string) (string, error)
	GetBulkOperation(ctx context.Context, creds commerce.Credentials, operationID string) (*commerce.BulkOperation, error)
	FetchExport(ctx context.Context, url string) (io.ReadCloser, error)
	ActiveSubscriptions(ctx context.Context, creds commerce.Credentials) ([]commerce.Subscription, error)
}

// JobDispatcher stages and starts one pipeline run.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job pipeline.JobInput) error
}

// UsageReporter books processed images after a completed run.
type UsageReporter interface {
	ReportCompletion(ctx context.Context, shopID, operationID string, count int64) error
}
