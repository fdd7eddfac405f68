package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// WebhookTestSession correlates an armed test token with the node that armed it.
type WebhookTestSession struct {
	Token      string    `json:"token"`
	WorkflowID int64     `json:"workflowId"`
	NodeID     string    `json:"nodeId"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its deadline at now.
func (s WebhookTestSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ArmedWebhookTest is returned to the editor after arming a test.
type ArmedWebhookTest struct {
	WebhookURL string    `json:"webhookUrl"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type PayloadFormat string

const (
	JSONPayloadFormat PayloadFormat = "json"
	TextPayloadFormat PayloadFormat = "text"
)

// CapturedEvent is the write-once record of a redeemed test token. Payload
// holds the body as JSON: the parsed document, or a JSON string for bodies
// that were not valid JSON.
type CapturedEvent struct {
	ID         int64           `json:"id" db:"id"`
	WorkflowID int64           `json:"workflowId" db:"workflow_id"`
	NodeID     string          `json:"nodeId" db:"node_id"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	Format     PayloadFormat   `json:"format" db:"format"`
	Headers    Headers         `json:"headers" db:"headers"`
	CapturedAt time.Time       `json:"capturedAt" db:"captured_at"`
}

// Headers is the flattened set of request headers kept with a capture.
type Headers map[string]string

func (h Headers) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(map[string]string(h))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (h *Headers) Scan(src interface{}) error {
	return scanJSON(src, (*map[string]string)(h))
}
