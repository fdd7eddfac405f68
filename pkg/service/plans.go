package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/recurrence"
	"github.com/ignatij/flowplan/pkg/storage"
)

// PlanService manages content plans outside of dispatch.
type PlanService struct {
	store  storage.Store
	logger Logger
}

func NewPlanService(store storage.Store, logger Logger) *PlanService {
	return &PlanService{store: store, logger: logger}
}

// CreatePlan validates p and stores it as scheduled.
func (s *PlanService) CreatePlan(p models.ContentPlan) (models.ContentPlan, error) {
	switch {
	case strings.TrimSpace(p.UserID) == "":
		return models.ContentPlan{}, fmt.Errorf("%w: userId is required", ErrInvalidArgument)
	case strings.TrimSpace(p.InfluencerID) == "":
		return models.ContentPlan{}, fmt.Errorf("%w: influencerId is required", ErrInvalidArgument)
	case strings.TrimSpace(p.Prompt) == "":
		return models.ContentPlan{}, fmt.Errorf("%w: prompt is required", ErrInvalidArgument)
	case p.StartsAt.IsZero():
		return models.ContentPlan{}, fmt.Errorf("%w: startsAt is required", ErrInvalidArgument)
	}
	if p.RRule != "" {
		if _, err := recurrence.Parse(p.RRule, p.StartsAt); err != nil {
			return models.ContentPlan{}, fmt.Errorf("%w: invalid rrule: %v", ErrInvalidArgument, err)
		}
	}

	now := time.Now()
	p.ID = uuid.NewString()
	p.Status = models.ScheduledPlanStatus
	p.ErrorMsg = ""
	p.LastRunAt = nil
	p.ClaimedAt = nil
	p.CreatedAt = now
	p.UpdatedAt = now
	if _, err := s.store.SaveContentPlan(p); err != nil {
		return models.ContentPlan{}, fmt.Errorf("save content plan: %w", err)
	}
	s.logger.Infof("Created content plan %s starting at %s", p.ID, p.StartsAt.Format(time.RFC3339))
	return p, nil
}

func (s *PlanService) GetPlan(id string) (models.ContentPlan, error) {
	return s.store.GetContentPlan(id)
}

// ListPlans lists plans, all of them when status is empty.
func (s *PlanService) ListPlans(status models.PlanStatus) ([]models.ContentPlan, error) {
	switch status {
	case "", models.ScheduledPlanStatus, models.ProcessingPlanStatus,
		models.CompletedPlanStatus, models.FailedPlanStatus:
	default:
		return nil, fmt.Errorf("%w: unknown plan status '%s'", ErrInvalidArgument, status)
	}
	return s.store.ListContentPlans(status)
}

// RequeuePlan puts a failed plan back on the schedule at its current startsAt.
func (s *PlanService) RequeuePlan(id string) error {
	if err := s.store.RequeuePlan(id); err != nil {
		return fmt.Errorf("requeue plan %s: %w", id, err)
	}
	s.logger.Infof("Requeued content plan %s", id)
	return nil
}
