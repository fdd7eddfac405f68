package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/recurrence"
	"github.com/ignatij/flowplan/pkg/storage"
)

const (
	// DefaultDispatchLimit is the batch size used when none is given.
	DefaultDispatchLimit = 20
	// DefaultStaleAfter is how long a plan may sit in processing before it
	// can be claimed again.
	DefaultStaleAfter = 30 * time.Minute
	defaultWorkers    = 4
)

type DispatcherConfig struct {
	Workers    int           // parallel backend calls per batch
	StaleAfter time.Duration // 0 disables reclaiming stuck plans
}

// Dispatcher claims due content plans, renders them and advances or fails
// their schedule.
type Dispatcher struct {
	store   storage.Store
	backend RenderBackend
	logger  Logger
	cfg     DispatcherConfig
	now     func() time.Time
}

type DispatcherOption func(*Dispatcher)

// WithDispatchClock replaces time.Now.
func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(store storage.Store, backend RenderBackend, logger Logger, cfg DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	d := &Dispatcher{
		store:   store,
		backend: backend,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchBatch runs one tick: claim up to limit due plans, render each of
// them, finalize each independently and report. Only a failed claim is
// returned as an error; with nothing due it returns an empty report.
func (d *Dispatcher) DispatchBatch(ctx context.Context, limit int) (models.RunReport, error) {
	if limit <= 0 {
		limit = DefaultDispatchLimit
	}
	now := d.now()
	opts := storage.ClaimOptions{Now: now, Limit: limit}
	if d.cfg.StaleAfter > 0 {
		opts.StaleBefore = now.Add(-d.cfg.StaleAfter)
	}

	plans, err := d.store.ClaimDuePlans(opts)
	if err != nil {
		d.logger.Errorf("Failed to claim due plans: %v", err)
		return models.RunReport{}, fmt.Errorf("%w: %v", ErrClaimFailed, err)
	}
	report := models.RunReport{Results: []models.PlanResult{}}
	if len(plans) == 0 {
		return report, nil
	}
	d.logger.Infof("Claimed %d due plans", len(plans))

	workers := d.cfg.Workers
	if workers > len(plans) {
		workers = len(plans)
	}
	// Claimed plans are already in processing; a caller going away must not
	// strand them there. The backend client bounds each call with its own
	// timeout.
	runCtx := context.WithoutCancel(ctx)
	wp := NewWorkerPool(len(plans), d.runPlan, d.logger)
	wp.Start(workers)
	for i, plan := range plans {
		wp.Submit(runCtx, i, plan)
	}
	report.Results = wp.Wait()

	for _, res := range report.Results {
		report.Processed++
		if res.Status == models.CompletedPlanStatus {
			report.Successful++
		} else {
			report.Failed++
		}
	}
	d.logger.Infof("Dispatch finished: %d processed, %d successful, %d failed", report.Processed, report.Successful, report.Failed)
	return report, nil
}

func (d *Dispatcher) runPlan(ctx context.Context, plan models.ContentPlan) (result models.PlanResult) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("internal error during dispatch: %v", r)
			d.logger.Errorf("Plan %s panicked: %v", plan.ID, r)
			if err := d.store.MarkFailed(plan.ID, msg, d.now()); err != nil {
				d.logger.Errorf("Failed to mark plan %s as failed: %v", plan.ID, err)
				msg = fmt.Sprintf("%s (status update failed: %v)", msg, err)
			}
			result = models.PlanResult{PlanID: plan.ID, Status: models.FailedPlanStatus, Message: msg}
		}
	}()

	renderErr := d.backend.GenerateVideo(ctx, models.NewRenderRequest(plan))
	finishedAt := d.now()

	if renderErr != nil {
		msg := renderErr.Error()
		d.logger.Errorf("Plan %s failed: %s", plan.ID, msg)
		if err := d.store.MarkFailed(plan.ID, msg, finishedAt); err != nil {
			d.logger.Errorf("Failed to mark plan %s as failed: %v", plan.ID, err)
			msg = fmt.Sprintf("%s (status update failed: %v)", msg, err)
		}
		return models.PlanResult{PlanID: plan.ID, Status: models.FailedPlanStatus, Message: msg}
	}

	var next *time.Time
	if ts, ok := recurrence.Advance(plan.StartsAt, plan.RRule); ok {
		next = &ts
	}
	if err := d.store.MarkCompleted(plan.ID, next, finishedAt); err != nil {
		// The plan stays in processing and becomes eligible again once stale.
		d.logger.Errorf("Rendered plan %s but failed to finalize it: %v", plan.ID, err)
		return models.PlanResult{
			PlanID:  plan.ID,
			Status:  models.FailedPlanStatus,
			Message: fmt.Sprintf("rendered but failed to finalize: %v", err),
		}
	}

	msg := "completed, no further occurrences"
	if next != nil {
		msg = "completed, next run at " + next.UTC().Format(time.RFC3339)
	}
	d.logger.Infof("Plan %s %s", plan.ID, msg)
	return models.PlanResult{PlanID: plan.ID, Status: models.CompletedPlanStatus, Message: msg}
}
