package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignatij/flowplan/pkg/models"
	"golang.org/x/time/rate"
)

const (
	generateVideoPath    = "/generate-video"
	defaultRenderTimeout = 60 * time.Second
	maxErrorBodySnippet  = 512
)

// RenderBackend is the external content generator invoked per plan.
type RenderBackend interface {
	GenerateVideo(ctx context.Context, req models.RenderRequest) error
}

type RenderClientConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 means unlimited
	Burst     int
}

// RenderClient calls the render backend over HTTP.
type RenderClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewRenderClient(cfg RenderClientConfig) *RenderClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &RenderClient{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + generateVideoPath,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout, Transport: transport},
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// GenerateVideo posts one render request. Transport failures wrap
// ErrBackendUnavailable, non-2xx answers wrap ErrBackendRejected.
func (c *RenderClient) GenerateVideo(ctx context.Context, req models.RenderRequest) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode render request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySnippet))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			return fmt.Errorf("%w: status %d", ErrBackendRejected, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d: %s", ErrBackendRejected, resp.StatusCode, msg)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
