package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/brandseal/brandseal/internal/commerce"
	"github.com/brandseal/brandseal/internal/pipeline"
	"github.com/brandseal/brandseal/internal/processing/domain"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
	"github.com/brandseal/brandseal/internal/worklist"
)

// ReconcileBulkOperation resolves a completion webhook. The webhook only
// carries the operation id; kind, status and result URL are read back from
// the platform before routing to the export or transform branch.
func (s *Service) ReconcileBulkOperation(ctx context.Context, shopID, operationID string) error {
	operationID = commerce.NormalizeOperationID(operationID)

	billing, err := s.repo.FindBilling(ctx, shopID)
	if err != nil {
		return err
	}
	op, err := s.gateway.GetBulkOperation(ctx, credentials(billing), operationID)
	if err != nil {
		// an operation the platform no longer knows cannot change state;
		// callers ack it so the webhook is not redelivered
		if errors.Is(err, commerce.ErrOperationNotFound) {
			return domain.ErrUnknownOperation
		}
		return err
	}

	switch strings.ToUpper(op.Kind) {
	case "QUERY":
		return s.HandleExportCompleted(ctx, domain.ExportCompletedEvent{
			ShopID:      shopID,
			OperationID: op.ID,
			Status:      op.Status,
			URL:         op.URL,
			ObjectCount: op.ObjectCount,
		})
	case "MUTATION":
		return s.HandleTransformCompleted(ctx, domain.TransformCompletedEvent{
			ShopID:      shopID,
			OperationID: op.ID,
			Status:      op.Status,
		})
	default:
		s.log.Warn("bulk operation of unknown kind",
			zap.String("shop_id", shopID),
			zap.String("operation_id", operationID),
			zap.String("kind", op.Kind),
		)
		return nil
	}
}

// HandleExportCompleted turns a finished export into a staged pipeline run.
// The allowance is re-evaluated here: the cap that matters is the one at
// worklist-build time, not the one at dispatch time.
func (s *Service) HandleExportCompleted(ctx context.Context, evt domain.ExportCompletedEvent) error {
	return s.locker.WithShopLock(ctx, evt.ShopID, func(ctx context.Context) error {
		settings, err := s.repo.FindSettings(ctx, evt.ShopID)
		if err != nil {
			return err
		}
		if !s.matchesCurrent(ctx, settings, shopdomain.ProcessStateProcessing, evt.OperationID, "export") {
			return nil
		}

		if !strings.EqualFold(evt.Status, "COMPLETED") {
			s.metrics.RecordCallback(ctx, "export", "failed")
			s.log.Warn("export did not complete",
				zap.String("shop_id", evt.ShopID),
				zap.String("operation_id", evt.OperationID),
				zap.String("status", evt.Status),
			)
			return s.transition(ctx, evt.ShopID, settings.Version,
				shopdomain.ProcessStatus{State: shopdomain.ProcessStateFailed})
		}

		billing, err := s.repo.FindBilling(ctx, evt.ShopID)
		if err != nil {
			return err
		}
		eval, err := s.allowance.Evaluate(ctx, billing, nil)
		if err != nil {
			return err
		}
		if eval.Decision.IsBlocked() {
			s.metrics.RecordCallback(ctx, "export", "limited")
			return s.transition(ctx, evt.ShopID, settings.Version,
				shopdomain.ProcessStatus{State: shopdomain.ProcessStateLimited})
		}

		bound := worklist.Unbounded()
		if remaining, ok := eval.Decision.Remaining(); ok {
			bound = worklist.Limit(remaining)
		}

		body, err := s.gateway.FetchExport(ctx, evt.URL)
		if err != nil {
			// transient; the platform redelivers and state is still PROCESSING
			return err
		}
		defer body.Close()

		cfg := settings.ActiveConfig.Data()
		items, err := worklist.Build(body, worklist.Policy{FeaturedOnly: cfg.FeaturedOnly}, bound)
		if err != nil {
			return err
		}

		if len(items) == 0 {
			s.metrics.RecordCallback(ctx, "export", "empty")
			s.log.Warn("export produced no processable items",
				zap.String("shop_id", evt.ShopID),
				zap.String("operation_id", evt.OperationID),
			)
			return s.transition(ctx, evt.ShopID, settings.Version,
				shopdomain.ProcessStatus{State: shopdomain.ProcessStateFailed})
		}
		if remaining, ok := eval.Decision.Remaining(); ok && len(items) == remaining && evt.ObjectCount > int64(remaining) {
			s.metrics.RecordWorklistClamped(ctx)
		}

		job := pipeline.JobInput{
			ShopID:             evt.ShopID,
			OperationID:        evt.OperationID,
			Watermark:          cfg.Watermark,
			CompressionQuality: cfg.CompressionQuality,
			Items:              items,
		}
		if err := s.jobs.Dispatch(ctx, job); err != nil {
			s.metrics.RecordCallback(ctx, "export", "dispatch_failed")
			s.log.Error("pipeline dispatch failed",
				zap.String("shop_id", evt.ShopID),
				zap.String("operation_id", evt.OperationID),
				zap.Error(err),
			)
			return s.transition(ctx, evt.ShopID, settings.Version,
				shopdomain.ProcessStatus{State: shopdomain.ProcessStateFailed})
		}

		s.metrics.RecordCallback(ctx, "export", "ok")
		return s.transition(ctx, evt.ShopID, settings.Version, shopdomain.ProcessStatus{
			State:        shopdomain.ProcessStateProcessing,
			OperationID:  evt.OperationID,
			PlannedCount: len(items),
		})
	})
}

// HandleTransformCompleted finishes a run: COMPLETED state, usage booked for
// the planned count. Replays find state already COMPLETED and drop out at the
// match check, so usage is reported at most once per operation.
func (s *Service) HandleTransformCompleted(ctx context.Context, evt domain.TransformCompletedEvent) error {
	return s.locker.WithShopLock(ctx, evt.ShopID, func(ctx context.Context) error {
		settings, err := s.repo.FindSettings(ctx, evt.ShopID)
		if err != nil {
			return err
		}
		if !s.matchesCurrent(ctx, settings, shopdomain.ProcessStateProcessing, evt.OperationID, "transform") {
			return nil
		}

		if !strings.EqualFold(evt.Status, "COMPLETED") {
			s.metrics.RecordCallback(ctx, "transform", "failed")
			return s.transition(ctx, evt.ShopID, settings.Version,
				shopdomain.ProcessStatus{State: shopdomain.ProcessStateFailed})
		}

		planned := settings.Status.PlannedCount
		err = s.transition(ctx, evt.ShopID, settings.Version, shopdomain.ProcessStatus{
			State:       shopdomain.ProcessStateCompleted,
			OperationID: evt.OperationID,
		})
		if err != nil {
			return err
		}

		if planned > 0 {
			if err := s.reporter.ReportCompletion(ctx, evt.ShopID, evt.OperationID, int64(planned)); err != nil {
				// state already advanced; usage booking must not bounce the webhook
				s.log.Error("usage report failed after completion",
					zap.String("shop_id", evt.ShopID),
					zap.String("operation_id", evt.OperationID),
					zap.Int("planned_count", planned),
					zap.Error(err),
				)
			}
		}

		s.metrics.RecordCallback(ctx, "transform", "ok")
		s.log.Info("run completed",
			zap.String("shop_id", evt.ShopID),
			zap.String("operation_id", evt.OperationID),
			zap.Int("planned_count", planned),
		)
		return nil
	})
}

// HandleRemovalCompleted closes a removal run back to IDLE.
func (s *Service) HandleRemovalCompleted(ctx context.Context, evt domain.RemovalCompletedEvent) error {
	return s.locker.WithShopLock(ctx, evt.ShopID, func(ctx context.Context) error {
		settings, err := s.repo.FindSettings(ctx, evt.ShopID)
		if err != nil {
			return err
		}
		if !s.matchesCurrent(ctx, settings, shopdomain.ProcessStateRemoving, evt.OperationID, "removal") {
			return nil
		}

		if !evt.Success {
			s.metrics.RecordCallback(ctx, "removal", "failed")
			return s.transition(ctx, evt.ShopID, settings.Version,
				shopdomain.ProcessStatus{State: shopdomain.ProcessStateFailed})
		}

		s.metrics.RecordCallback(ctx, "removal", "ok")
		s.log.Info("removal completed", zap.String("shop_id", evt.ShopID))
		return s.transition(ctx, evt.ShopID, settings.Version,
			shopdomain.ProcessStatus{State: shopdomain.ProcessStateIdle})
	})
}

// matchesCurrent guards every completion branch: the signal must target the
// operation the shop currently tracks, in the expected state. Anything else
// is acknowledged and dropped.
func (s *Service) matchesCurrent(ctx context.Context, settings *shopdomain.ShopSettings, want shopdomain.ProcessState, operationID, kind string) bool {
	if settings.Status.State == want && settings.Status.OperationID == operationID {
		return true
	}
	s.metrics.RecordCallback(ctx, kind, "ignored_stale")
	s.log.Info("completion signal ignored",
		zap.String("shop_id", settings.ShopID),
		zap.String("kind", kind),
		zap.String("operation_id", operationID),
		zap.String("current_state", string(settings.Status.State)),
		zap.String("current_operation_id", settings.Status.OperationID),
	)
	return false
}
