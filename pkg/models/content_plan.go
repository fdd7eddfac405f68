package models

import "time"

type PlanStatus string

const (
	ScheduledPlanStatus  PlanStatus = "scheduled"
	ProcessingPlanStatus PlanStatus = "processing"
	CompletedPlanStatus  PlanStatus = "completed"
	FailedPlanStatus     PlanStatus = "failed"
)

// ContentPlan is a scheduled content-generation job. Only scheduled plans
// whose StartsAt has passed are eligible for claiming.
type ContentPlan struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"userId" db:"user_id"`
	InfluencerID string     `json:"influencerId" db:"influencer_id"`
	LookID       string     `json:"lookId,omitempty" db:"look_id"`
	Prompt       string     `json:"prompt" db:"prompt"`
	Title        string     `json:"title" db:"title"`
	StartsAt     time.Time  `json:"startsAt" db:"starts_at"`
	RRule        string     `json:"rrule,omitempty" db:"rrule"` // empty for one-shot plans
	Status       PlanStatus `json:"status" db:"status"`
	ErrorMsg     string     `json:"error,omitempty" db:"error_msg"`
	LastRunAt    *time.Time `json:"lastRunAt,omitempty" db:"last_run_at"`
	ClaimedAt    *time.Time `json:"claimedAt,omitempty" db:"claimed_at"` // set by the claim, used for stale reclaim
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// RenderRequest is the body sent to the render backend for one plan.
type RenderRequest struct {
	PlanID       string `json:"planId"`
	InfluencerID string `json:"influencerId"`
	LookID       string `json:"lookId"`
	Prompt       string `json:"prompt"`
	Title        string `json:"title"`
	UserID       string `json:"userId"`
}

// NewRenderRequest builds the backend request for a plan.
func NewRenderRequest(p ContentPlan) RenderRequest {
	return RenderRequest{
		PlanID:       p.ID,
		InfluencerID: p.InfluencerID,
		LookID:       p.LookID,
		Prompt:       p.Prompt,
		Title:        p.Title,
		UserID:       p.UserID,
	}
}

// PlanResult is the per-plan line of a RunReport.
type PlanResult struct {
	PlanID  string     `json:"planId"`
	Status  PlanStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// RunReport summarizes one dispatch batch.
type RunReport struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []PlanResult `json:"results"`
}
