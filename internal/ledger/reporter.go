package ledger

import (
	"context"
	"errors"

	"go.uber.org/zap"

	obsmetrics "github.com/brandseal/brandseal/internal/observability/metrics"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

// UsageSink is the ledger surface the reporter needs.
type UsageSink interface {
	RecordUsage(ctx context.Context, customerToken, eventName string, count int64) error
}

// Reporter records billable usage after a completed run. The local counter is
// authoritative: it always advances, whether or not the external ledger
// accepts the event. Ledger failures are logged and swallowed so a billing
// outage never wedges operation state.
type Reporter struct {
	repo    shopdomain.Repository
	sink    UsageSink
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

func NewReporter(repo shopdomain.Repository, sink UsageSink, metrics *obsmetrics.Metrics, log *zap.Logger) *Reporter {
	return &Reporter{
		repo:    repo,
		sink:    sink,
		metrics: metrics,
		log:     log.Named("ledger.reporter"),
	}
}

// ReportCompletion books count processed images against the shop. count <= 0
// is a no-op.
func (r *Reporter) ReportCompletion(ctx context.Context, shopID, operationID string, count int64) error {
	if count <= 0 {
		return nil
	}

	billing, err := r.repo.FindBilling(ctx, shopID)
	if err != nil {
		return err
	}

	if err := r.repo.IncrementMarkedImages(ctx, shopID, count); err != nil {
		return err
	}
	r.metrics.RecordImagesReported(ctx, count)

	if err := r.sink.RecordUsage(ctx, billing.LedgerToken, UsageEventImagesGenerated, count); err != nil {
		if !errors.Is(err, ErrLedgerDisabled) {
			r.metrics.RecordLedgerFailure(ctx)
		}
		r.log.Warn("usage event not delivered to ledger",
			zap.String("shop_id", shopID),
			zap.String("operation_id", operationID),
			zap.Int64("count", count),
			zap.Error(err),
		)
	}
	return nil
}
