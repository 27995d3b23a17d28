package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/cartpulse-backend/internal/cart"
	"github.com/angelmondragon/cartpulse-backend/internal/settings"
	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
	"github.com/angelmondragon/cartpulse-backend/pkg/enums"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/metrics"
)

const cartRecoveryJobName = "cart-recovery"

// RecoverySender delivers one recovery email. A nil error means the provider accepted it.
type RecoverySender interface {
	Send(ctx context.Context, record models.CartRecord, step int) error
}

type recoveryStore interface {
	BulkTransition(ctx context.Context, t cart.Transition, now time.Time) (int64, error)
	InvalidateAggregates(ctx context.Context)
	EmailCandidates(ctx context.Context, q cart.CandidateQuery) ([]models.CartRecord, error)
	AdvanceEmailStep(ctx context.Context, record models.CartRecord, step int, now time.Time) (bool, error)
	RecordEmailFailure(ctx context.Context, record models.CartRecord, now time.Time) error
}

type settingsReader interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// CartRecoveryJobParams wire the abandonment sweep and recovery email dispatch.
type CartRecoveryJobParams struct {
	Logger          *logger.Logger
	Store           recoveryStore
	Settings        settingsReader
	Sender          RecoverySender
	Metrics         *metrics.RecoveryMetrics
	MaxSendAttempts int
}

// NewCartRecoveryJob builds the scheduled abandonment/recovery job.
func NewCartRecoveryJob(params CartRecoveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings reader required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("recovery sender required")
	}
	maxAttempts := params.MaxSendAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &cartRecoveryJob{
		logg:        params.Logger,
		store:       params.Store,
		settings:    params.Settings,
		sender:      params.Sender,
		metrics:     params.Metrics,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

type cartRecoveryJob struct {
	logg        *logger.Logger
	store       recoveryStore
	settings    settingsReader
	sender      RecoverySender
	metrics     *metrics.RecoveryMetrics
	maxAttempts int
	now         func() time.Time
}

func (j *cartRecoveryJob) Name() string { return cartRecoveryJobName }

// Run applies the lifecycle sweeps, then dispatches due recovery emails.
// A failing phase is reported but never blocks the phases after it.
func (j *cartRecoveryJob) Run(ctx context.Context) error {
	current, err := j.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load recovery settings: %w", err)
	}
	now := j.now().UTC()

	var errs []error
	if err := j.abandonInactive(ctx, current, now); err != nil {
		errs = append(errs, err)
	}
	if err := j.expireStale(ctx, current, now); err != nil {
		errs = append(errs, err)
	}
	j.store.InvalidateAggregates(ctx)

	if !current.EnableEmails {
		j.logg.Info(ctx, "recovery emails disabled; skipping dispatch")
		return multierr.Combine(errs...)
	}

	if err := j.dispatchEmails(ctx, current, now); err != nil {
		errs = append(errs, err)
	}
	j.store.InvalidateAggregates(ctx)
	return multierr.Combine(errs...)
}

func (j *cartRecoveryJob) abandonInactive(ctx context.Context, current settings.Settings, now time.Time) error {
	n, err := j.store.BulkTransition(ctx, cart.Transition{
		From:           []enums.CartStatus{enums.CartStatusActive},
		To:             enums.CartStatusAbandoned,
		InactiveBefore: now.Add(-current.AbandonAfter()),
		Stamp:          cart.StampAbandonedAt,
	}, now)
	if err != nil {
		return fmt.Errorf("abandon sweep: %w", err)
	}
	j.metrics.AddTransitions(string(enums.CartStatusAbandoned), n)
	if n > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", n), "carts marked abandoned")
	}
	return nil
}

// expireStale uses its own cutoff so very old rows expire even if the abandon sweep failed.
func (j *cartRecoveryJob) expireStale(ctx context.Context, current settings.Settings, now time.Time) error {
	n, err := j.store.BulkTransition(ctx, cart.Transition{
		From:           []enums.CartStatus{enums.CartStatusActive, enums.CartStatusAbandoned},
		To:             enums.CartStatusExpired,
		InactiveBefore: now.Add(-current.RetainFor()),
	}, now)
	if err != nil {
		return fmt.Errorf("expiry sweep: %w", err)
	}
	j.metrics.AddTransitions(string(enums.CartStatusExpired), n)
	if n > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", n), "carts marked expired")
	}
	return nil
}

// dispatchEmails walks steps in ascending order. A record whose send failed is
// left for the next run and is not offered later steps in this one.
func (j *cartRecoveryJob) dispatchEmails(ctx context.Context, current settings.Settings, now time.Time) error {
	var errs []error
	failed := map[int64]struct{}{}
	sent, failures := 0, 0

	for step := 1; step <= settings.StepCount; step++ {
		stepCtx := j.logg.WithField(ctx, "step", step)
		candidates, err := j.store.EmailCandidates(stepCtx, cart.CandidateQuery{
			Step:            step,
			AbandonedBefore: now.Add(-current.StepDelay(step)),
			MaxFailures:     j.maxAttempts,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("step %d candidates: %w", step, err))
			continue
		}

		for _, record := range candidates {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				return multierr.Combine(errs...)
			}
			if _, skip := failed[record.ID]; skip {
				continue
			}
			if record.LastEmailStep >= step {
				continue
			}
			ok, err := j.sendStep(stepCtx, record, step, now)
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				sent++
			} else {
				failed[record.ID] = struct{}{}
				failures++
			}
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"sent": sent, "failed": failures}), "recovery email dispatch finished")
	return multierr.Combine(errs...)
}

// sendStep reports whether the email went out. The returned error covers
// storage failures only; provider failures are counted on the record.
func (j *cartRecoveryJob) sendStep(ctx context.Context, record models.CartRecord, step int, now time.Time) (bool, error) {
	recordCtx := j.logg.WithCartToken(ctx, record.CartToken)
	if err := j.sender.Send(recordCtx, record, step); err != nil {
		j.metrics.ObserveEmail(step, metrics.ResultFailed)
		j.logg.Warn(j.logg.WithField(recordCtx, "error", err.Error()), "recovery email failed")
		if recErr := j.store.RecordEmailFailure(recordCtx, record, now); recErr != nil {
			return false, fmt.Errorf("record email failure: %w", recErr)
		}
		return false, nil
	}

	j.metrics.ObserveEmail(step, metrics.ResultSent)
	if _, err := j.store.AdvanceEmailStep(recordCtx, record, step, now); err != nil {
		// sent but not recorded; the watermark check may resend this step next run
		return true, fmt.Errorf("advance email step %d: %w", step, err)
	}
	return true, nil
}
