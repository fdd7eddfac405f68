package service_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/service"
	"github.com/ignatij/flowplan/pkg/storage"
	"github.com/ignatij/flowplan/pkg/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookTestService(t *testing.T) {
	ctx := context.Background()
	setup := func(t *testing.T) (*service.WebhookTestService, int64) {
		store := storage.NewMockStore()
		id, err := store.SaveWorkflow(models.Workflow{Name: "hooks"})
		require.NoError(t, err)
		return service.NewWebhookTestService(store, tokens.NewCache(), "https://flowplan.test/", logger{}), id
	}

	t.Run("ArmAndCaptureJSON", func(t *testing.T) {
		svc, wfID := setup(t)
		armed, err := svc.Arm(ctx, wfID, "hook")
		require.NoError(t, err)
		assert.Len(t, armed.Token, tokens.TokenLength)
		assert.Equal(t, "https://flowplan.test/t/"+armed.Token, armed.WebhookURL)
		assert.False(t, armed.ExpiresAt.IsZero())

		header := http.Header{"Content-Type": {"application/json"}, "X-Trace": {"a", "b"}}
		event, err := svc.Capture(ctx, armed.Token, []byte(` {"name":"ada"} `), header)
		require.NoError(t, err)
		assert.Equal(t, models.JSONPayloadFormat, event.Format)
		assert.JSONEq(t, `{"name":"ada"}`, string(event.Payload))
		assert.Equal(t, "a, b", event.Headers["X-Trace"])
		assert.Equal(t, wfID, event.WorkflowID)
		assert.Equal(t, "hook", event.NodeID)

		captures, err := svc.ListCaptures(wfID, "hook")
		require.NoError(t, err)
		require.Len(t, captures, 1)
		assert.Equal(t, event.ID, captures[0].ID)
	})

	t.Run("TextPayload", func(t *testing.T) {
		svc, wfID := setup(t)
		armed, err := svc.Arm(ctx, wfID, "hook")
		require.NoError(t, err)

		event, err := svc.Capture(ctx, armed.Token, []byte("plain body"), nil)
		require.NoError(t, err)
		assert.Equal(t, models.TextPayloadFormat, event.Format)
		assert.Equal(t, `"plain body"`, string(event.Payload))
		assert.Empty(t, event.Headers)
	})

	t.Run("TokenIsSingleUse", func(t *testing.T) {
		svc, wfID := setup(t)
		armed, err := svc.Arm(ctx, wfID, "hook")
		require.NoError(t, err)

		_, err = svc.Capture(ctx, armed.Token, []byte(`{}`), nil)
		require.NoError(t, err)
		_, err = svc.Capture(ctx, armed.Token, []byte(`{}`), nil)
		assert.ErrorIs(t, err, service.ErrTokenNotFound)

		_, err = svc.Capture(ctx, "nope", []byte(`{}`), nil)
		assert.ErrorIs(t, err, service.ErrTokenNotFound)
	})

	t.Run("ArmValidation", func(t *testing.T) {
		svc, wfID := setup(t)
		_, err := svc.Arm(ctx, wfID, "  ")
		assert.ErrorIs(t, err, service.ErrInvalidArgument)

		_, err = svc.Arm(ctx, wfID+100, "hook")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
