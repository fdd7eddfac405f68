package service_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ignatij/flowplan/pkg/compiler"
	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/service"
	"github.com/ignatij/flowplan/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

func sampleBoard() models.Board {
	return models.Board{
		Nodes: []models.Node{
			{ID: "start", ActionKind: "start"},
			{ID: "hook", ActionKind: "webhook-trigger", Config: json.RawMessage(`{"subtype":"webhook-trigger"}`)},
			{ID: "wait", ActionKind: "delay", Config: json.RawMessage(`{"duration":"later"}`)},
		},
		Connections: []models.Connection{
			{Source: "start", Target: "hook"},
			{Source: "hook", Target: "wait"},
		},
	}
}

func TestWorkflowService(t *testing.T) {
	newWorkflowService := func() (*service.WorkflowService, storage.Store) {
		store := storage.NewMockStore()
		c := compiler.New(compiler.WithIDFunc(func() string { return "def" }))
		return service.NewWorkflowService(store, c, logger{}), store
	}

	t.Run("CreateWorkflow", func(t *testing.T) {
		svc, _ := newWorkflowService()
		id, err := svc.CreateWorkflow("  daily digest ")
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)

		wf, err := svc.GetWorkflow(id)
		require.NoError(t, err)
		assert.Equal(t, "daily digest", wf.Name)
		assert.Nil(t, wf.Board)
		assert.Nil(t, wf.Definition)
	})

	t.Run("CreateWorkflowValidation", func(t *testing.T) {
		svc, _ := newWorkflowService()
		_, err := svc.CreateWorkflow("")
		assert.ErrorIs(t, err, service.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "workflow name cannot be empty")

		_, err = svc.CreateWorkflow(strings.Repeat("x", 101))
		assert.ErrorIs(t, err, service.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "too long")
	})

	t.Run("SaveBoardCompilesAndVersions", func(t *testing.T) {
		svc, store := newWorkflowService()
		id, err := svc.CreateWorkflow("hooks")
		require.NoError(t, err)

		first, err := svc.SaveBoard(id, sampleBoard())
		require.NoError(t, err)
		assert.Equal(t, 1, first.Definition.Version)
		assert.Equal(t, "hooks", first.Definition.Name)
		assert.Equal(t, "hook", first.Definition.Root)
		assert.Equal(t, "webhook", first.Definition.Nodes["hook"].Sub)
		require.Len(t, first.Issues, 1)
		assert.Equal(t, "wait", first.Issues[0].NodeID)

		second, err := svc.SaveBoard(id, models.Board{})
		require.NoError(t, err)
		assert.Equal(t, 2, second.Definition.Version)
		assert.Equal(t, "", second.Definition.Root)
		assert.NotNil(t, second.Issues)

		wf, err := store.GetWorkflow(id)
		require.NoError(t, err)
		require.NotNil(t, wf.Definition)
		assert.Equal(t, 2, wf.Definition.Version)
		require.NotNil(t, wf.Board)
		assert.Empty(t, wf.Board.Nodes)
	})

	t.Run("SaveBoardUnknownWorkflow", func(t *testing.T) {
		svc, _ := newWorkflowService()
		_, err := svc.SaveBoard(42, sampleBoard())
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = svc.SaveBoard(0, sampleBoard())
		assert.ErrorIs(t, err, service.ErrInvalidArgument)
	})

	t.Run("ListWorkflows", func(t *testing.T) {
		svc, _ := newWorkflowService()
		workflows, err := svc.ListWorkflows()
		require.NoError(t, err)
		assert.Empty(t, workflows)

		_, err = svc.CreateWorkflow("one")
		require.NoError(t, err)
		_, err = svc.CreateWorkflow("two")
		require.NoError(t, err)

		workflows, err = svc.ListWorkflows()
		require.NoError(t, err)
		require.Len(t, workflows, 2)
		assert.Equal(t, "two", workflows[0].Name)
		assert.Equal(t, "one", workflows[1].Name)
	})
}

func TestPlanService(t *testing.T) {
	valid := func() models.ContentPlan {
		return models.ContentPlan{
			UserID:       "user-1",
			InfluencerID: "influencer-1",
			LookID:       "look-1",
			Prompt:       "a walk on the beach",
			Title:        "Beach",
			StartsAt:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
			RRule:        "FREQ=DAILY",
		}
	}

	t.Run("CreatePlan", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewPlanService(store, logger{})

		plan, err := svc.CreatePlan(valid())
		require.NoError(t, err)
		assert.NotEmpty(t, plan.ID)
		assert.Equal(t, models.ScheduledPlanStatus, plan.Status)

		stored, err := svc.GetPlan(plan.ID)
		require.NoError(t, err)
		assert.Equal(t, "a walk on the beach", stored.Prompt)
	})

	t.Run("CreatePlanValidation", func(t *testing.T) {
		svc := service.NewPlanService(storage.NewMockStore(), logger{})
		mutations := map[string]func(p *models.ContentPlan){
			"userId":       func(p *models.ContentPlan) { p.UserID = "" },
			"influencerId": func(p *models.ContentPlan) { p.InfluencerID = " " },
			"prompt":       func(p *models.ContentPlan) { p.Prompt = "" },
			"startsAt":     func(p *models.ContentPlan) { p.StartsAt = time.Time{} },
			"rrule":        func(p *models.ContentPlan) { p.RRule = "FREQ=EVERY-NOW-AND-THEN" },
		}
		for want, mutate := range mutations {
			p := valid()
			mutate(&p)
			_, err := svc.CreatePlan(p)
			assert.ErrorIs(t, err, service.ErrInvalidArgument, want)
			if err != nil {
				assert.Contains(t, err.Error(), want)
			}
		}
	})

	t.Run("ListPlans", func(t *testing.T) {
		svc := service.NewPlanService(storage.NewMockStore(), logger{})
		_, err := svc.CreatePlan(valid())
		require.NoError(t, err)

		plans, err := svc.ListPlans(models.ScheduledPlanStatus)
		require.NoError(t, err)
		assert.Len(t, plans, 1)

		plans, err = svc.ListPlans(models.FailedPlanStatus)
		require.NoError(t, err)
		assert.Empty(t, plans)

		_, err = svc.ListPlans("paused")
		assert.ErrorIs(t, err, service.ErrInvalidArgument)
	})

	t.Run("RequeueOnlyFailed", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewPlanService(store, logger{})
		plan, err := svc.CreatePlan(valid())
		require.NoError(t, err)

		assert.ErrorIs(t, svc.RequeuePlan(plan.ID), storage.ErrInvalidTransition)

		_, err = store.ClaimDuePlans(storage.ClaimOptions{Now: plan.StartsAt, Limit: 1})
		require.NoError(t, err)
		require.NoError(t, store.MarkFailed(plan.ID, "boom", plan.StartsAt))

		require.NoError(t, svc.RequeuePlan(plan.ID))
		stored, err := svc.GetPlan(plan.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledPlanStatus, stored.Status)
	})
}
