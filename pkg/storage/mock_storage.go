package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/flowplan/pkg/models"
)

// mockStore implements storage.Store with in-memory storage. It is safe for
// concurrent use; transactions share the parent's state.
type mockStore struct {
	mu        sync.Mutex
	workflows []models.Workflow
	plans     map[string]models.ContentPlan
	events    []models.CapturedEvent
	nextID    int64 // For workflow IDs
	nextEvent int64
}

func NewMockStore() Store {
	return &mockStore{plans: make(map[string]models.ContentPlan)}
}

func (m *mockStore) Begin() (Store, error) {
	return m, nil
}

func (m *mockStore) Commit() error {
	return nil
}

func (m *mockStore) Rollback() error {
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

func (m *mockStore) SaveWorkflow(wf models.Workflow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	wf.ID = m.nextID
	m.workflows = append(m.workflows, wf)
	return wf.ID, nil
}

func (m *mockStore) GetWorkflow(id int64) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, wf := range m.workflows {
		if wf.ID == id {
			return wf, nil
		}
	}
	return models.Workflow{}, ErrNotFound
}

func (m *mockStore) ListWorkflows() ([]models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	workflows := make([]models.Workflow, 0, len(m.workflows))
	for i := len(m.workflows) - 1; i >= 0; i-- {
		wf := m.workflows[i]
		wf.Board, wf.Definition = nil, nil
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

func (m *mockStore) UpdateWorkflowBoard(id int64, board models.Board, def models.ExecutionDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, wf := range m.workflows {
		if wf.ID == id {
			m.workflows[i].Board = &board
			m.workflows[i].Definition = &def
			m.workflows[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) SaveContentPlan(p models.ContentPlan) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.plans[p.ID] = p
	return p.ID, nil
}

func (m *mockStore) GetContentPlan(id string) (models.ContentPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return models.ContentPlan{}, ErrNotFound
	}
	return p, nil
}

func (m *mockStore) ListContentPlans(status models.PlanStatus) ([]models.ContentPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plans := []models.ContentPlan{}
	for _, p := range m.plans {
		if status == "" || p.Status == status {
			plans = append(plans, p)
		}
	}
	sortByStartsAt(plans)
	return plans, nil
}

// ClaimDuePlans selects and marks under one lock, which is the in-memory
// equivalent of the SKIP LOCKED update the Postgres store runs.
func (m *mockStore) ClaimDuePlans(opts ClaimOptions) ([]models.ContentPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.Limit <= 0 {
		return []models.ContentPlan{}, nil
	}
	var due []models.ContentPlan
	for _, p := range m.plans {
		if isClaimable(p, opts) {
			due = append(due, p)
		}
	}
	sortByStartsAt(due)
	if len(due) > opts.Limit {
		due = due[:opts.Limit]
	}
	claimed := make([]models.ContentPlan, 0, len(due))
	for _, p := range due {
		claimedAt := opts.Now
		p.Status = models.ProcessingPlanStatus
		p.ClaimedAt = &claimedAt
		p.UpdatedAt = opts.Now
		m.plans[p.ID] = p
		claimed = append(claimed, p)
	}
	return claimed, nil
}

func isClaimable(p models.ContentPlan, opts ClaimOptions) bool {
	switch p.Status {
	case models.ScheduledPlanStatus:
		return !p.StartsAt.After(opts.Now)
	case models.ProcessingPlanStatus:
		return !opts.StaleBefore.IsZero() && p.ClaimedAt != nil && p.ClaimedAt.Before(opts.StaleBefore)
	}
	return false
}

func (m *mockStore) MarkCompleted(id string, next *time.Time, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != models.ProcessingPlanStatus {
		return ErrInvalidTransition
	}
	lastRun := at
	p.LastRunAt = &lastRun
	p.ErrorMsg = ""
	p.ClaimedAt = nil
	p.UpdatedAt = at
	p.Status = models.CompletedPlanStatus
	if next != nil {
		p.Status = models.ScheduledPlanStatus
		p.StartsAt = *next
	}
	m.plans[id] = p
	return nil
}

func (m *mockStore) MarkFailed(id string, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != models.ProcessingPlanStatus {
		return ErrInvalidTransition
	}
	lastRun := at
	p.Status = models.FailedPlanStatus
	p.ErrorMsg = message
	p.LastRunAt = &lastRun
	p.ClaimedAt = nil
	p.UpdatedAt = at
	m.plans[id] = p
	return nil
}

func (m *mockStore) RequeuePlan(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != models.FailedPlanStatus {
		return ErrInvalidTransition
	}
	p.Status = models.ScheduledPlanStatus
	p.ErrorMsg = ""
	p.UpdatedAt = time.Now()
	m.plans[id] = p
	return nil
}

func (m *mockStore) SaveCapturedEvent(e models.CapturedEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEvent++
	e.ID = m.nextEvent
	m.events = append(m.events, e)
	return e.ID, nil
}

func (m *mockStore) ListCapturedEvents(workflowID int64, nodeID string) ([]models.CapturedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := []models.CapturedEvent{}
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.WorkflowID == workflowID && (nodeID == "" || e.NodeID == nodeID) {
			events = append(events, e)
		}
	}
	return events, nil
}

func sortByStartsAt(plans []models.ContentPlan) {
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].StartsAt.Equal(plans[j].StartsAt) {
			return plans[i].ID < plans[j].ID
		}
		return plans[i].StartsAt.Before(plans[j].StartsAt)
	})
}
