// Package pipeline stages worklists into the external processing pipeline and
// triggers removal runs.
package pipeline

import (
	"context"
	"errors"

	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
	"github.com/brandseal/brandseal/internal/worklist"
)

// ErrAlreadyStarted means an execution with the same name already exists. A
// redispatch of the same operation treats this as success.
var ErrAlreadyStarted = errors.New("pipeline_execution_already_started")

// JobInput is the document staged for one processing run. The pipeline reads
// it from the blob store by the key carried in the execution input.
type JobInput struct {
	ShopID             string                     `json:"shopId"`
	OperationID        string                     `json:"operationId"`
	Watermark          shopdomain.WatermarkConfig `json:"watermark"`
	CompressionQuality int                        `json:"compressionQuality"`
	Items              []worklist.Item            `json:"items"`
}

// RemovalRequest asks the removal function to restore a shop's original
// images.
type RemovalRequest struct {
	ShopID      string `json:"shopId"`
	OperationID string `json:"operationId"`
}

// BlobStore writes staged job documents. Writes to the same key overwrite.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte) error
}

// ExecutionInput is the payload handed to a started execution. The worklist
// itself stays in the staged document; identifiers, planned count and config
// ride along so the pipeline can report back without fetching the blob first.
type ExecutionInput struct {
	ShopID             string                     `json:"shopId"`
	OperationID        string                     `json:"operationId"`
	PlannedCount       int                        `json:"plannedCount"`
	Watermark          shopdomain.WatermarkConfig `json:"watermark"`
	CompressionQuality int                        `json:"compressionQuality"`
	InputKey           string                     `json:"inputKey"`
}

// Runner starts one pipeline execution per operation. Name collisions signal
// a duplicate dispatch and surface as ErrAlreadyStarted.
type Runner interface {
	Start(ctx context.Context, name string, input ExecutionInput) error
}

// RemovalRunner fires the asynchronous removal function.
type RemovalRunner interface {
	Invoke(ctx context.Context, req RemovalRequest) error
}
