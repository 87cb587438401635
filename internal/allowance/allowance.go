// Package allowance decides whether a shop may run watermark processing and
// how many images it may still process under trial rules.
package allowance

import (
	"context"
	"time"

	"github.com/brandseal/brandseal/internal/clock"
	"github.com/brandseal/brandseal/internal/config"
	obsmetrics "github.com/brandseal/brandseal/internal/observability/metrics"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
	"go.uber.org/zap"
)

type decisionKind int

const (
	kindBlocked decisionKind = iota
	kindCapped
	kindUnlimited
)

// Decision is the allowance verdict: Blocked, Capped(remaining) or Unlimited.
type Decision struct {
	kind      decisionKind
	remaining int
}

func Blocked() Decision              { return Decision{kind: kindBlocked} }
func Capped(remaining int) Decision  { return Decision{kind: kindCapped, remaining: remaining} }
func Unlimited() Decision            { return Decision{kind: kindUnlimited} }

func (d Decision) IsBlocked() bool   { return d.kind == kindBlocked }
func (d Decision) IsUnlimited() bool { return d.kind == kindUnlimited }

// Remaining returns the capped remaining count; ok is false unless the
// decision is Capped.
func (d Decision) Remaining() (int, bool) {
	return d.remaining, d.kind == kindCapped
}

// TrialGrant is a freshly-observed trial offer from the commerce platform's
// subscription record. Only the first-seen grant ever takes effect.
type TrialGrant struct {
	TrialDays int
	CreatedAt time.Time
}

// Evaluation is the full allowance view used by the trial-allowance endpoint.
type Evaluation struct {
	Decision Decision
	InTrial  bool
	Cap      int
	Used     int64
}

type Engine struct {
	repo    shopdomain.Repository
	clock   clock.Clock
	cfg     *config.ProcessingConfigHolder
	metrics *obsmetrics.Metrics
	log     *zap.Logger
}

func NewEngine(repo shopdomain.Repository, clk clock.Clock, cfg *config.ProcessingConfigHolder, metrics *obsmetrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		repo:    repo,
		clock:   clk,
		cfg:     cfg,
		metrics: metrics,
		log:     log.Named("allowance"),
	}
}

// Evaluate computes the allowance for a shop. The only mutations it performs
// are the one-time trial lock-in and the starter-plan expiry; everything else
// is pure. billing is refreshed in place when a lock-in or expiry happens.
func (e *Engine) Evaluate(ctx context.Context, billing *shopdomain.ShopBillingRecord, grant *TrialGrant) (Evaluation, error) {
	now := e.clock.Now()
	trialCap := e.cfg.Current().TrialCap

	if err := e.expireStarterPlan(ctx, billing, now); err != nil {
		return Evaluation{}, err
	}

	if billing.IsPaidUser {
		return Evaluation{
			Decision: Unlimited(),
			Cap:      trialCap,
			Used:     billing.MarkedImagesCount,
		}, nil
	}

	if !billing.TrialEverStarted && grant != nil && grant.TrialDays > 0 {
		if err := e.lockTrial(ctx, billing, grant); err != nil {
			return Evaluation{}, err
		}
	}

	inTrial := billing.TrialEverStarted &&
		billing.TrialEndsAt != nil &&
		now.Before(*billing.TrialEndsAt)

	if !inTrial {
		return Evaluation{
			Decision: Blocked(),
			Cap:      trialCap,
			Used:     billing.MarkedImagesCount,
		}, nil
	}

	remaining := trialCap - int(billing.MarkedImagesCount)
	if remaining < 0 {
		remaining = 0
	}

	eval := Evaluation{
		InTrial: true,
		Cap:     trialCap,
		Used:    billing.MarkedImagesCount,
	}
	if remaining == 0 {
		eval.Decision = Blocked()
	} else {
		eval.Decision = Capped(remaining)
	}
	return eval, nil
}

// lockTrial persists the first-seen trial window exactly once. When a
// concurrent evaluation won the race the stored window is re-read and wins.
func (e *Engine) lockTrial(ctx context.Context, billing *shopdomain.ShopBillingRecord, grant *TrialGrant) error {
	endsAt := grant.CreatedAt.UTC().Add(time.Duration(grant.TrialDays) * 24 * time.Hour)
	locked, err := e.repo.LockTrial(ctx, billing.ShopID, endsAt)
	if err != nil {
		return err
	}
	if locked {
		billing.TrialEverStarted = true
		billing.TrialEndsAt = &endsAt
		e.metrics.RecordTrialLockIn(ctx)
		e.log.Info("trial window locked in",
			zap.String("shop_id", billing.ShopID),
			zap.Time("trial_ends_at", endsAt),
		)
		return nil
	}

	fresh, err := e.repo.FindBilling(ctx, billing.ShopID)
	if err != nil {
		return err
	}
	*billing = *fresh
	return nil
}

func (e *Engine) expireStarterPlan(ctx context.Context, billing *shopdomain.ShopBillingRecord, now time.Time) error {
	if !billing.StarterPlanUser || billing.StarterPlanStartedAt == nil {
		return nil
	}
	maxAge := time.Duration(e.cfg.Current().StarterPlanDays) * 24 * time.Hour
	if now.Sub(*billing.StarterPlanStartedAt) <= maxAge {
		return nil
	}
	if err := e.repo.ClearStarterPlan(ctx, billing.ShopID); err != nil {
		return err
	}
	billing.StarterPlanUser = false
	billing.IsPaidUser = false
	e.log.Info("starter plan expired", zap.String("shop_id", billing.ShopID))
	return nil
}
