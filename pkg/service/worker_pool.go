package service

import (
	"context"
	"runtime"
	"sync"

	"github.com/ignatij/flowplan/pkg/models"
)

// planJob is one claimed plan queued for execution. Its result lands at
// index in the batch's result slice.
type planJob struct {
	ctx   context.Context
	index int
	plan  models.ContentPlan
}

// WorkerPool executes claimed plans in parallel. A failing plan does not
// affect the others.
type WorkerPool struct {
	run     func(ctx context.Context, plan models.ContentPlan) models.PlanResult
	results []models.PlanResult
	jobs    chan planJob
	wg      sync.WaitGroup
	logger  Logger
}

func NewWorkerPool(size int, run func(ctx context.Context, plan models.ContentPlan) models.PlanResult, logger Logger) *WorkerPool {
	return &WorkerPool{
		run:     run,
		results: make([]models.PlanResult, size),
		logger:  logger,
	}
}

// Start begins the worker pool with the specified number of workers
func (wp *WorkerPool) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp.jobs = make(chan planJob, workers)
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Submit queues plan; its result is stored at index.
func (wp *WorkerPool) Submit(ctx context.Context, index int, plan models.ContentPlan) {
	wp.jobs <- planJob{ctx: ctx, index: index, plan: plan}
}

// Wait stops accepting plans, waits for the workers and returns the results
// in submission order.
func (wp *WorkerPool) Wait() []models.PlanResult {
	close(wp.jobs)
	wp.wg.Wait()
	return wp.results
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for job := range wp.jobs {
		wp.results[job.index] = wp.execute(job)
	}
}

func (wp *WorkerPool) execute(job planJob) (result models.PlanResult) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorf("Plan %s panicked: %v", job.plan.ID, r)
			result = models.PlanResult{PlanID: job.plan.ID, Status: models.FailedPlanStatus, Message: "internal error during dispatch"}
		}
	}()
	return wp.run(job.ctx, job.plan)
}
