package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	obsmetrics "github.com/brandseal/brandseal/internal/observability/metrics"
)

// Dispatcher stages a job document and starts the pipeline execution for it.
// Both steps are idempotent for the same operation id: the blob write
// overwrites the same key and a duplicate execution name is treated as the
// execution already running.
type Dispatcher struct {
	blobs   BlobStore
	runner  Runner
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

func NewDispatcher(blobs BlobStore, runner Runner, metrics *obsmetrics.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		blobs:   blobs,
		runner:  runner,
		metrics: metrics,
		log:     log.Named("pipeline.dispatcher"),
	}
}

// InputKey is where the staged job document lives for one operation.
func InputKey(shopID, operationID string) string {
	return fmt.Sprintf("%s/input/%s.json", shopID, operationID)
}

// ExecutionName is unique per operation so the runner can reject duplicates.
func ExecutionName(shopID, operationID string) string {
	return fmt.Sprintf("%s-%s", shopID, operationID)
}

// Dispatch stages the job and starts the execution. The caller transitions
// the shop to PROCESSING only after Dispatch returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, job JobInput) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return err
	}

	key := InputKey(job.ShopID, job.OperationID)
	if err := d.blobs.Put(ctx, key, doc); err != nil {
		d.metrics.RecordDispatch(ctx, "transform", "stage_failed")
		return fmt.Errorf("stage worklist: %w", err)
	}

	err = d.runner.Start(ctx, ExecutionName(job.ShopID, job.OperationID), ExecutionInput{
		ShopID:             job.ShopID,
		OperationID:        job.OperationID,
		PlannedCount:       len(job.Items),
		Watermark:          job.Watermark,
		CompressionQuality: job.CompressionQuality,
		InputKey:           key,
	})
	switch {
	case err == nil:
	case err == ErrAlreadyStarted:
		d.log.Info("execution already running, treating dispatch as done",
			zap.String("shop_id", job.ShopID),
			zap.String("operation_id", job.OperationID),
		)
	default:
		d.metrics.RecordDispatch(ctx, "transform", "start_failed")
		return fmt.Errorf("start execution: %w", err)
	}

	d.metrics.RecordDispatch(ctx, "transform", "ok")
	d.log.Info("pipeline dispatched",
		zap.String("shop_id", job.ShopID),
		zap.String("operation_id", job.OperationID),
		zap.Int("item_count", len(job.Items)),
	)
	return nil
}
