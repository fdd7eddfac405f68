package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderClient(t *testing.T) {
	ctx := context.Background()
	req := models.RenderRequest{PlanID: "p1", InfluencerID: "i1", LookID: "l1", Prompt: "hello", Title: "t", UserID: "u1"}

	t.Run("PostsPlanParameters", func(t *testing.T) {
		var got models.RenderRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/generate-video", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		client := service.NewRenderClient(service.RenderClientConfig{BaseURL: srv.URL + "/", APIKey: "secret"})
		require.NoError(t, client.GenerateVideo(ctx, req))
		assert.Equal(t, req, got)
	})

	t.Run("NonSuccessIsRejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client := service.NewRenderClient(service.RenderClientConfig{BaseURL: srv.URL})
		err := client.GenerateVideo(ctx, req)
		assert.ErrorIs(t, err, service.ErrBackendRejected)
		assert.Contains(t, err.Error(), "status 429: quota exceeded")
	})

	t.Run("TransportFailureIsUnavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		client := service.NewRenderClient(service.RenderClientConfig{BaseURL: url, Timeout: time.Second})
		err := client.GenerateVideo(ctx, req)
		assert.ErrorIs(t, err, service.ErrBackendUnavailable)
	})

	t.Run("RateLimitHonorsContext", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer srv.Close()

		client := service.NewRenderClient(service.RenderClientConfig{BaseURL: srv.URL, RateLimit: 0.001, Burst: 1})
		require.NoError(t, client.GenerateVideo(ctx, req))

		shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := client.GenerateVideo(shortCtx, req)
		assert.ErrorIs(t, err, service.ErrBackendUnavailable)
	})
}
