package storage

import (
	"time"

	"github.com/ignatij/flowplan/pkg/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a plan is not in the status an update requires.
	ErrInvalidTransition = errors.New("invalid plan status transition")
)

// ClaimOptions narrows a claim. Plans in processing whose ClaimedAt is before
// StaleBefore are reclaimed as well; a zero StaleBefore disables that.
type ClaimOptions struct {
	Now         time.Time
	Limit       int
	StaleBefore time.Time
}

// Store defines the storage operations for flowplan.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Workflow operations
	SaveWorkflow(w models.Workflow) (int64, error)
	GetWorkflow(id int64) (models.Workflow, error)
	ListWorkflows() ([]models.Workflow, error)
	UpdateWorkflowBoard(id int64, board models.Board, def models.ExecutionDefinition) error

	// Content plan operations
	SaveContentPlan(p models.ContentPlan) (string, error)
	GetContentPlan(id string) (models.ContentPlan, error)
	ListContentPlans(status models.PlanStatus) ([]models.ContentPlan, error)
	// ClaimDuePlans atomically moves up to Limit due plans to processing and
	// returns them. Concurrent callers never receive the same plan.
	ClaimDuePlans(opts ClaimOptions) ([]models.ContentPlan, error)
	// MarkCompleted finishes a processing plan. With a next occurrence the plan
	// is re-armed as scheduled at next, otherwise it stays completed.
	MarkCompleted(id string, next *time.Time, at time.Time) error
	MarkFailed(id string, message string, at time.Time) error
	RequeuePlan(id string) error

	// Captured webhook test events
	SaveCapturedEvent(e models.CapturedEvent) (int64, error)
	ListCapturedEvents(workflowID int64, nodeID string) ([]models.CapturedEvent, error)
}
