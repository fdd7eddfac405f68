package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/storage"
	"github.com/pkg/errors"
)

// TokenCache holds armed webhook test sessions. Consume must be an atomic
// get-and-delete and must not return expired sessions.
type TokenCache interface {
	Arm(ctx context.Context, workflowID int64, nodeID string) (models.WebhookTestSession, error)
	Consume(ctx context.Context, token string) (models.WebhookTestSession, bool, error)
}

// WebhookTestService arms test tokens for trigger nodes and records what
// arrives on them.
type WebhookTestService struct {
	store   storage.Store
	cache   TokenCache
	baseURL string
	logger  Logger
	now     func() time.Time
}

func NewWebhookTestService(store storage.Store, cache TokenCache, baseURL string, logger Logger) *WebhookTestService {
	return &WebhookTestService{
		store:   store,
		cache:   cache,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// CaptureURL is the public URL a token is redeemed on.
func (s *WebhookTestService) CaptureURL(token string) string {
	return s.baseURL + "/t/" + token
}

// Arm issues a token for the node of an existing workflow.
func (s *WebhookTestService) Arm(ctx context.Context, workflowID int64, nodeID string) (models.ArmedWebhookTest, error) {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return models.ArmedWebhookTest{}, fmt.Errorf("%w: nodeId is required", ErrInvalidArgument)
	}
	if _, err := s.store.GetWorkflow(workflowID); err != nil {
		return models.ArmedWebhookTest{}, fmt.Errorf("arm webhook test for workflow %d: %w", workflowID, err)
	}
	session, err := s.cache.Arm(ctx, workflowID, nodeID)
	if err != nil {
		return models.ArmedWebhookTest{}, errors.Wrap(err, "arm webhook test")
	}
	s.logger.Infof("Armed webhook test for workflow %d node '%s' until %s", workflowID, nodeID, session.ExpiresAt.Format(time.RFC3339))
	return models.ArmedWebhookTest{
		WebhookURL: s.CaptureURL(session.Token),
		Token:      session.Token,
		ExpiresAt:  session.ExpiresAt,
	}, nil
}

// Capture redeems token and records the request. Bodies that are not JSON
// are kept as text; that is never an error. Unknown, used or expired tokens
// return ErrTokenNotFound.
func (s *WebhookTestService) Capture(ctx context.Context, token string, body []byte, header http.Header) (models.CapturedEvent, error) {
	session, ok, err := s.cache.Consume(ctx, token)
	if err != nil {
		return models.CapturedEvent{}, errors.Wrap(err, "consume webhook test token")
	}
	if !ok {
		return models.CapturedEvent{}, ErrTokenNotFound
	}

	payload, format := parsePayload(body)
	event := models.CapturedEvent{
		WorkflowID: session.WorkflowID,
		NodeID:     session.NodeID,
		Payload:    payload,
		Format:     format,
		Headers:    flattenHeaders(header),
		CapturedAt: s.now(),
	}
	id, err := s.store.SaveCapturedEvent(event)
	if err != nil {
		// The token is spent at this point; the editor has to arm a new one.
		return models.CapturedEvent{}, errors.Wrapf(err, "save captured event for workflow %d node '%s'", session.WorkflowID, session.NodeID)
	}
	event.ID = id
	s.logger.Infof("Captured %s webhook test payload for workflow %d node '%s'", format, session.WorkflowID, session.NodeID)
	return event, nil
}

func (s *WebhookTestService) ListCaptures(workflowID int64, nodeID string) ([]models.CapturedEvent, error) {
	return s.store.ListCapturedEvents(workflowID, nodeID)
}

func parsePayload(body []byte) (json.RawMessage, models.PayloadFormat) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(append([]byte(nil), trimmed...)), models.JSONPayloadFormat
	}
	text, _ := json.Marshal(string(body))
	return json.RawMessage(text), models.TextPayloadFormat
}

func flattenHeaders(header http.Header) models.Headers {
	flat := make(models.Headers, len(header))
	for k, values := range header {
		flat[k] = strings.Join(values, ", ")
	}
	return flat
}
