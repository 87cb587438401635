// Package service implements the processing orchestrator: allowance-gated
// dispatch, completion reconciliation and removal.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brandseal/brandseal/internal/allowance"
	"github.com/brandseal/brandseal/internal/clock"
	"github.com/brandseal/brandseal/internal/commerce"
	"github.com/brandseal/brandseal/internal/locking"
	obsmetrics "github.com/brandseal/brandseal/internal/observability/metrics"
	"github.com/brandseal/brandseal/internal/pipeline"
	"github.com/brandseal/brandseal/internal/processing/domain"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

type Service struct {
	repo      shopdomain.Repository
	allowance *allowance.Engine
	gateway   domain.CommerceGateway
	jobs      domain.JobDispatcher
	removal   pipeline.RemovalRunner
	reporter  domain.UsageReporter
	locker    *locking.Locker
	clock     clock.Clock
	metrics   *obsmetrics.Metrics
	log       *zap.Logger
}

func NewService(
	repo shopdomain.Repository,
	engine *allowance.Engine,
	gateway domain.CommerceGateway,
	jobs domain.JobDispatcher,
	removal pipeline.RemovalRunner,
	reporter domain.UsageReporter,
	locker *locking.Locker,
	clk clock.Clock,
	metrics *obsmetrics.Metrics,
	log *zap.Logger,
) domain.Service {
	return &Service{
		repo:      repo,
		allowance: engine,
		gateway:   gateway,
		jobs:      jobs,
		removal:   removal,
		reporter:  reporter,
		locker:    locker,
		clock:     clk,
		metrics:   metrics,
		log:       log.Named("processing"),
	}
}

// EnableProcessing authorizes and dispatches a new run. The operation id is
// written before the export request so the tracked record exists before any
// external call; once the platform accepts, the id is replaced with the
// platform's normalized id used by webhook correlation.
func (s *Service) EnableProcessing(ctx context.Context, shopID string, cfg shopdomain.ActiveConfig) (*shopdomain.ProcessStatus, error) {
	var status *shopdomain.ProcessStatus
	err := s.locker.WithShopLock(ctx, shopID, func(ctx context.Context) error {
		billing, err := s.repo.FindBilling(ctx, shopID)
		if err != nil {
			return err
		}
		settings, err := s.repo.FindSettings(ctx, shopID)
		if err != nil {
			return err
		}
		if settings.Status.State.Outstanding() {
			return domain.ErrOperationInFlight
		}

		grant := s.observeSubscription(ctx, billing)
		eval, err := s.allowance.Evaluate(ctx, billing, grant)
		if err != nil {
			return err
		}
		if eval.Decision.IsBlocked() {
			limited := shopdomain.ProcessStatus{State: shopdomain.ProcessStateLimited}
			if err := s.transition(ctx, shopID, settings.Version, limited); err != nil {
				return err
			}
			status = &limited
			return domain.ErrAllowanceExhausted
		}

		st := shopdomain.ProcessStatus{
			State:       shopdomain.ProcessStateProcessing,
			OperationID: uuid.NewString(),
		}
		if err := s.repo.UpdateActivation(ctx, shopID, settings.Version, true, cfg, st); err != nil {
			return err
		}
		version := settings.Version + 1

		operationID, err := s.gateway.StartBulkExport(ctx, credentials(billing), commerce.BuildExportQuery(cfg))
		if err != nil {
			s.metrics.RecordDispatch(ctx, "export", "failed")
			failed := shopdomain.ProcessStatus{State: shopdomain.ProcessStateFailed}
			if terr := s.transition(ctx, shopID, version, failed); terr != nil {
				s.log.Error("failed to record export failure",
					zap.String("shop_id", shopID), zap.Error(terr))
			}
			return err
		}

		st.OperationID = operationID
		if err := s.transition(ctx, shopID, version, st); err != nil {
			return err
		}
		s.metrics.RecordDispatch(ctx, "export", "ok")
		s.log.Info("export requested",
			zap.String("shop_id", shopID),
			zap.String("operation_id", operationID),
		)
		status = &st
		return nil
	})
	return status, err
}

// DisableProcessing starts the removal run that restores original images.
// Shops that never had an image processed deactivate in place.
func (s *Service) DisableProcessing(ctx context.Context, shopID string) (*shopdomain.ProcessStatus, error) {
	var status *shopdomain.ProcessStatus
	err := s.locker.WithShopLock(ctx, shopID, func(ctx context.Context) error {
		billing, err := s.repo.FindBilling(ctx, shopID)
		if err != nil {
			return err
		}
		settings, err := s.repo.FindSettings(ctx, shopID)
		if err != nil {
			return err
		}
		if settings.Status.State.Outstanding() {
			return domain.ErrOperationInFlight
		}

		cfg := settings.ActiveConfig.Data()

		if billing.MarkedImagesCount == 0 {
			idle := shopdomain.ProcessStatus{State: shopdomain.ProcessStateIdle}
			if err := s.repo.UpdateActivation(ctx, shopID, settings.Version, false, cfg, idle); err != nil {
				return err
			}
			s.log.Info("deactivated without removal, no images ever marked",
				zap.String("shop_id", shopID))
			status = &idle
			return nil
		}

		st := shopdomain.ProcessStatus{
			State:       shopdomain.ProcessStateRemoving,
			OperationID: uuid.NewString(),
		}
		if err := s.repo.UpdateActivation(ctx, shopID, settings.Version, false, cfg, st); err != nil {
			return err
		}
		version := settings.Version + 1

		err = s.removal.Invoke(ctx, pipeline.RemovalRequest{
			ShopID:      shopID,
			OperationID: st.OperationID,
		})
		if err != nil {
			s.metrics.RecordDispatch(ctx, "removal", "failed")
			failed := shopdomain.ProcessStatus{State: shopdomain.ProcessStateFailed}
			if terr := s.transition(ctx, shopID, version, failed); terr != nil {
				s.log.Error("failed to record removal failure",
					zap.String("shop_id", shopID), zap.Error(terr))
			}
			return err
		}
		s.metrics.RecordDispatch(ctx, "removal", "ok")
		s.log.Info("removal dispatched",
			zap.String("shop_id", shopID),
			zap.String("operation_id", st.OperationID),
		)
		status = &st
		return nil
	})
	return status, err
}

// TrialAllowance computes the allowance view. Observing a paid subscription
// also clears a LIMITED state so the shop can dispatch again.
func (s *Service) TrialAllowance(ctx context.Context, shopID string) (*domain.AllowanceView, error) {
	billing, err := s.repo.FindBilling(ctx, shopID)
	if err != nil {
		return nil, err
	}

	grant := s.observeSubscription(ctx, billing)
	eval, err := s.allowance.Evaluate(ctx, billing, grant)
	if err != nil {
		return nil, err
	}

	view := &domain.AllowanceView{
		InTrial:    eval.InTrial,
		Cap:        eval.Cap,
		Used:       eval.Used,
		IsPaidUser: billing.IsPaidUser,
	}
	switch {
	case eval.Decision.IsUnlimited():
		view.Remaining = -1
	case eval.Decision.IsBlocked():
		view.Remaining = 0
	default:
		view.Remaining, _ = eval.Decision.Remaining()
	}

	if billing.IsPaidUser {
		if err := s.clearLimited(ctx, shopID); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// RecordManualUsage books out-of-band processed images reported through the
// usage callback.
func (s *Service) RecordManualUsage(ctx context.Context, shopID string, count int64) error {
	return s.reporter.ReportCompletion(ctx, shopID, "manual", count)
}

// observeSubscription reads the shop's platform subscriptions. A subscription
// whose trial window is still open yields a grant for the one-time lock-in; a
// subscription past its trial marks the shop paid. Lookup failures degrade to
// no observation.
func (s *Service) observeSubscription(ctx context.Context, billing *shopdomain.ShopBillingRecord) *allowance.TrialGrant {
	subs, err := s.gateway.ActiveSubscriptions(ctx, credentials(billing))
	if err != nil {
		s.log.Debug("subscription lookup failed",
			zap.String("shop_id", billing.ShopID), zap.Error(err))
		return nil
	}

	var grant *allowance.TrialGrant
	paid := false
	now := s.clock.Now()
	for _, sub := range subs {
		if !sub.Active() {
			continue
		}
		if sub.TrialDays <= 0 {
			paid = true
			continue
		}
		trialEnd := sub.CreatedAt.UTC().Add(time.Duration(sub.TrialDays) * 24 * time.Hour)
		if now.Before(trialEnd) {
			if grant == nil {
				grant = &allowance.TrialGrant{TrialDays: sub.TrialDays, CreatedAt: sub.CreatedAt}
			}
		} else {
			paid = true
		}
	}

	if paid && !billing.IsPaidUser {
		if err := s.repo.SetPaidUser(ctx, billing.ShopID, true); err != nil {
			s.log.Warn("could not persist paid flag",
				zap.String("shop_id", billing.ShopID), zap.Error(err))
			return grant
		}
		billing.IsPaidUser = true
	}
	return grant
}

func (s *Service) clearLimited(ctx context.Context, shopID string) error {
	settings, err := s.repo.FindSettings(ctx, shopID)
	if err != nil {
		return err
	}
	if settings.Status.State != shopdomain.ProcessStateLimited {
		return nil
	}
	idle := shopdomain.ProcessStatus{State: shopdomain.ProcessStateIdle}
	return s.transition(ctx, shopID, settings.Version, idle)
}

// transition applies a status change under the optimistic version check. A
// lost race means another worker already advanced the shop; that is not an
// error for the caller.
func (s *Service) transition(ctx context.Context, shopID string, version int64, st shopdomain.ProcessStatus) error {
	err := s.repo.UpdateProcessStatus(ctx, shopID, version, st)
	if errors.Is(err, shopdomain.ErrStaleSettings) {
		s.log.Info("status transition lost optimistic race",
			zap.String("shop_id", shopID),
			zap.String("target_state", string(st.State)),
		)
		return nil
	}
	return err
}

func credentials(billing *shopdomain.ShopBillingRecord) commerce.Credentials {
	return commerce.Credentials{
		ShopDomain:  billing.ShopDomain,
		AccessToken: billing.AccessToken,
	}
}
