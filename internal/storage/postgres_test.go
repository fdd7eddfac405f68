package storage_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	internal_storage "github.com/ignatij/flowplan/internal/storage"
	"github.com/ignatij/flowplan/internal/testutil"
	"github.com/ignatij/flowplan/pkg/compiler"
	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	// Helper to create a transactional store
	newTxStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		require.NoError(t, err)
		txStore, err := store.Begin()
		require.NoError(t, err)
		t.Cleanup(func() {
			txStore.Rollback()
			store.Close()
		})
		return txStore.(*internal_storage.PostgresStore)
	}

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	newPlan := func(id string, startsAt time.Time) models.ContentPlan {
		return models.ContentPlan{
			ID:           id,
			UserID:       "user",
			InfluencerID: "influencer",
			Prompt:       "prompt",
			Title:        "title",
			StartsAt:     startsAt,
			Status:       models.ScheduledPlanStatus,
		}
	}
	planID := func(i int) string {
		return fmt.Sprintf("00000000-0000-0000-0000-%012d", i)
	}

	t.Run("SaveWorkflow", func(t *testing.T) {
		store := newTxStore(t)
		wfID, err := store.SaveWorkflow(models.Workflow{Name: "TestWorkflow"})
		require.NoError(t, err)
		assert.Greater(t, wfID, int64(0))

		saved, err := store.GetWorkflow(wfID)
		require.NoError(t, err)
		assert.Equal(t, "TestWorkflow", saved.Name)
		assert.Nil(t, saved.Board)
		assert.Nil(t, saved.Definition)
	})

	t.Run("UpdateWorkflowBoard", func(t *testing.T) {
		store := newTxStore(t)
		wfID, err := store.SaveWorkflow(models.Workflow{Name: "Board"})
		require.NoError(t, err)

		board := models.Board{
			Nodes: []models.Node{
				{ID: "start", ActionKind: "start"},
				{ID: "hook", ActionKind: "webhook-trigger", Config: json.RawMessage(`{"method":"POST"}`)},
			},
			Connections: []models.Connection{{Source: "start", Target: "hook"}},
		}
		def := compiler.New(compiler.WithIDFunc(func() string { return "def-1" })).Compile(board, "Board")
		require.NoError(t, store.UpdateWorkflowBoard(wfID, board, def))

		saved, err := store.GetWorkflow(wfID)
		require.NoError(t, err)
		require.NotNil(t, saved.Board)
		assert.Len(t, saved.Board.Nodes, 2)
		assert.JSONEq(t, `{"method":"POST"}`, string(saved.Board.Nodes[1].Config))
		require.NotNil(t, saved.Definition)
		assert.Equal(t, "def-1", saved.Definition.ID)
		assert.Equal(t, "hook", saved.Definition.Root)
		assert.Equal(t, "webhook", saved.Definition.Nodes["hook"].Sub)

		assert.ErrorIs(t, store.UpdateWorkflowBoard(wfID+1000, board, def), storage.ErrNotFound)
	})

	t.Run("GetNonExistingWorkflow", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.GetWorkflow(123)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListWorkflows", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.SaveWorkflow(models.Workflow{Name: "first", CreatedAt: base})
		require.NoError(t, err)
		_, err = store.SaveWorkflow(models.Workflow{Name: "second", CreatedAt: base.Add(time.Minute)})
		require.NoError(t, err)

		workflows, err := store.ListWorkflows()
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(workflows), 2)
		assert.Equal(t, "second", workflows[0].Name)
		assert.Nil(t, workflows[0].Board)
	})

	t.Run("ContentPlanRoundTrip", func(t *testing.T) {
		store := newTxStore(t)
		p := newPlan(planID(1), base)
		p.RRule = "FREQ=WEEKLY"
		id, err := store.SaveContentPlan(p)
		require.NoError(t, err)
		assert.Equal(t, planID(1), id)

		saved, err := store.GetContentPlan(id)
		require.NoError(t, err)
		assert.Equal(t, "FREQ=WEEKLY", saved.RRule)
		assert.True(t, base.Equal(saved.StartsAt))
		assert.Nil(t, saved.LastRunAt)

		_, err = store.GetContentPlan("not-a-uuid")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetContentPlan(planID(999))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ClaimDuePlans", func(t *testing.T) {
		store := newTxStore(t)
		for i := 1; i <= 3; i++ {
			_, err := store.SaveContentPlan(newPlan(planID(i), base.Add(-time.Duration(4-i)*time.Minute)))
			require.NoError(t, err)
		}
		_, err := store.SaveContentPlan(newPlan(planID(4), base.Add(time.Hour)))
		require.NoError(t, err)

		claimed, err := store.ClaimDuePlans(storage.ClaimOptions{Now: base, Limit: 2})
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		assert.Equal(t, planID(1), claimed[0].ID)
		assert.Equal(t, planID(2), claimed[1].ID)
		assert.Equal(t, models.ProcessingPlanStatus, claimed[0].Status)
		require.NotNil(t, claimed[0].ClaimedAt)

		claimed, err = store.ClaimDuePlans(storage.ClaimOptions{Now: base, Limit: 10})
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, planID(3), claimed[0].ID)

		claimed, err = store.ClaimDuePlans(storage.ClaimOptions{Now: base, Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("StaleReclaim", func(t *testing.T) {
		store := newTxStore(t)
		_, err := store.SaveContentPlan(newPlan(planID(1), base.Add(-2*time.Hour)))
		require.NoError(t, err)
		_, err = store.ClaimDuePlans(storage.ClaimOptions{Now: base.Add(-time.Hour), Limit: 1})
		require.NoError(t, err)

		claimed, err := store.ClaimDuePlans(storage.ClaimOptions{Now: base, Limit: 1})
		require.NoError(t, err)
		assert.Empty(t, claimed)

		claimed, err = store.ClaimDuePlans(storage.ClaimOptions{Now: base, Limit: 1, StaleBefore: base.Add(-30 * time.Minute)})
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.True(t, base.Equal(*claimed[0].ClaimedAt))
	})

	t.Run("FinalizeTransitions", func(t *testing.T) {
		store := newTxStore(t)
		for i := 1; i <= 3; i++ {
			_, err := store.SaveContentPlan(newPlan(planID(i), base.Add(-time.Minute)))
			require.NoError(t, err)
		}
		assert.ErrorIs(t, store.MarkCompleted(planID(1), nil, base), storage.ErrInvalidTransition)
		assert.ErrorIs(t, store.MarkFailed(planID(999), "x", base), storage.ErrNotFound)

		_, err := store.ClaimDuePlans(storage.ClaimOptions{Now: base, Limit: 3})
		require.NoError(t, err)

		next := base.Add(24 * time.Hour)
		require.NoError(t, store.MarkCompleted(planID(1), &next, base))
		require.NoError(t, store.MarkCompleted(planID(2), nil, base))
		require.NoError(t, store.MarkFailed(planID(3), "status 500: boom", base))

		rearmed, err := store.GetContentPlan(planID(1))
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledPlanStatus, rearmed.Status)
		assert.True(t, next.Equal(rearmed.StartsAt))
		assert.Nil(t, rearmed.ClaimedAt)
		require.NotNil(t, rearmed.LastRunAt)
		assert.True(t, base.Equal(*rearmed.LastRunAt))

		done, err := store.GetContentPlan(planID(2))
		require.NoError(t, err)
		assert.Equal(t, models.CompletedPlanStatus, done.Status)

		failed, err := store.GetContentPlan(planID(3))
		require.NoError(t, err)
		assert.Equal(t, models.FailedPlanStatus, failed.Status)
		assert.Equal(t, "status 500: boom", failed.ErrorMsg)

		assert.ErrorIs(t, store.RequeuePlan(planID(2)), storage.ErrInvalidTransition)
		require.NoError(t, store.RequeuePlan(planID(3)))
		requeued, err := store.GetContentPlan(planID(3))
		require.NoError(t, err)
		assert.Equal(t, models.ScheduledPlanStatus, requeued.Status)
		assert.Empty(t, requeued.ErrorMsg)

		failedPlans, err := store.ListContentPlans(models.FailedPlanStatus)
		require.NoError(t, err)
		assert.Empty(t, failedPlans)
		all, err := store.ListContentPlans("")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("CapturedEvents", func(t *testing.T) {
		store := newTxStore(t)
		wfID, err := store.SaveWorkflow(models.Workflow{Name: "Hooks"})
		require.NoError(t, err)

		_, err = store.SaveCapturedEvent(models.CapturedEvent{
			WorkflowID: wfID, NodeID: "a", Payload: json.RawMessage(`{"n":1}`),
			Format: models.JSONPayloadFormat, Headers: models.Headers{"X-Test": "1"}, CapturedAt: base,
		})
		require.NoError(t, err)
		_, err = store.SaveCapturedEvent(models.CapturedEvent{
			WorkflowID: wfID, NodeID: "b", Payload: json.RawMessage(`"plain"`),
			Format: models.TextPayloadFormat, CapturedAt: base.Add(time.Second),
		})
		require.NoError(t, err)

		events, err := store.ListCapturedEvents(wfID, "")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "b", events[0].NodeID)
		assert.Equal(t, models.TextPayloadFormat, events[0].Format)
		assert.Empty(t, events[0].Headers)

		events, err = store.ListCapturedEvents(wfID, "a")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.JSONEq(t, `{"n":1}`, string(events[0].Payload))
		assert.Equal(t, "1", events[0].Headers["X-Test"])
	})

	t.Run("ConcurrentClaimsNeverOverlap", func(t *testing.T) {
		testDB.Reset(t)
		t.Cleanup(func() { testDB.Reset(t) })

		seed, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		require.NoError(t, err)
		defer seed.Close()
		const total = 40
		for i := 1; i <= total; i++ {
			_, err := seed.SaveContentPlan(newPlan(planID(i), base.Add(-time.Duration(i)*time.Second)))
			require.NoError(t, err)
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		seen := map[string]int{}
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
				if !assert.NoError(t, err) {
					return
				}
				defer store.Close()
				for {
					claimed, err := store.ClaimDuePlans(storage.ClaimOptions{Now: base, Limit: 3})
					if !assert.NoError(t, err) || len(claimed) == 0 {
						return
					}
					mu.Lock()
					for _, p := range claimed {
						seen[p.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, total)
		for id, n := range seen {
			assert.Equal(t, 1, n, id)
		}
	})
}
