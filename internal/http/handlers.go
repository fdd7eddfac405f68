package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ignatij/flowplan/internal/log"
	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/service"
	"github.com/ignatij/flowplan/pkg/storage"
)

const maxCaptureBody = 1 << 20

// Services bundles what the handlers call into.
type Services struct {
	Workflows    *service.WorkflowService
	Plans        *service.PlanService
	Webhooks     *service.WebhookTestService
	Dispatcher   *service.Dispatcher
	DispatchSize int
}

// NewMux registers every route on a fresh ServeMux.
func NewMux(s Services) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("GET /workflows", ListWorkflowsHandler(s.Workflows))
	mux.HandleFunc("POST /workflows", CreateWorkflowHandler(s.Workflows))
	mux.HandleFunc("GET /workflows/{id}", GetWorkflowHandler(s.Workflows))
	mux.HandleFunc("PUT /workflows/{id}/board", SaveBoardHandler(s.Workflows))
	mux.HandleFunc("POST /workflows/{id}/webhook-tests", ArmWebhookTestHandler(s.Webhooks))
	mux.HandleFunc("GET /workflows/{id}/captures", ListCapturesHandler(s.Webhooks))
	mux.HandleFunc("POST /t/{token}", CaptureHandler(s.Webhooks))
	mux.HandleFunc("POST /dispatch", DispatchHandler(s.Dispatcher, s.DispatchSize))
	mux.HandleFunc("GET /plans", ListPlansHandler(s.Plans))
	mux.HandleFunc("POST /plans", CreatePlanHandler(s.Plans))
	mux.HandleFunc("POST /plans/{id}/requeue", RequeuePlanHandler(s.Plans))
	return mux
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "flowplan server is running")
}

func ListWorkflowsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflows, err := svc.ListWorkflows()
		if err != nil {
			writeError(w, "list workflows", err)
			return
		}
		writeJSON(w, http.StatusOK, workflows)
	}
}

func CreateWorkflowHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, "create workflow", err)
			return
		}
		id, err := svc.CreateWorkflow(req.Name)
		if err != nil {
			writeError(w, "create workflow", err)
			return
		}
		wf, err := svc.GetWorkflow(id)
		if err != nil {
			writeError(w, "create workflow", err)
			return
		}
		writeJSON(w, http.StatusCreated, wf)
	}
}

func GetWorkflowHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := workflowID(r)
		if err != nil {
			writeError(w, "get workflow", err)
			return
		}
		wf, err := svc.GetWorkflow(id)
		if err != nil {
			writeError(w, "get workflow", err)
			return
		}
		writeJSON(w, http.StatusOK, wf)
	}
}

// SaveBoardHandler stores and compiles a board. Check issues are returned
// alongside the definition and never fail the request.
func SaveBoardHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := workflowID(r)
		if err != nil {
			writeError(w, "save board", err)
			return
		}
		var board models.Board
		if err := decodeBody(r, &board); err != nil {
			writeError(w, "save board", err)
			return
		}
		res, err := svc.SaveBoard(id, board)
		if err != nil {
			writeError(w, "save board", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func ArmWebhookTestHandler(svc *service.WebhookTestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := workflowID(r)
		if err != nil {
			writeError(w, "arm webhook test", err)
			return
		}
		var req struct {
			NodeID string `json:"nodeId"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, "arm webhook test", err)
			return
		}
		armed, err := svc.Arm(r.Context(), id, req.NodeID)
		if err != nil {
			writeError(w, "arm webhook test", err)
			return
		}
		writeJSON(w, http.StatusCreated, armed)
	}
}

func ListCapturesHandler(svc *service.WebhookTestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := workflowID(r)
		if err != nil {
			writeError(w, "list captures", err)
			return
		}
		events, err := svc.ListCaptures(id, r.URL.Query().Get("nodeId"))
		if err != nil {
			writeError(w, "list captures", err)
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// CaptureHandler redeems a webhook test token. Any body is accepted.
func CaptureHandler(svc *service.WebhookTestService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The body is read before the token is looked up, so an oversized
		// request leaves the token armed.
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCaptureBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.GetLogger().Debugf("Rejected capture webhook test: body over %d bytes", tooLarge.Limit)
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
					"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				})
				return
			}
			writeError(w, "capture webhook test", fmt.Errorf("%w: read body: %v", service.ErrInvalidArgument, err))
			return
		}
		event, err := svc.Capture(r.Context(), r.PathValue("token"), body, r.Header)
		if err != nil {
			writeError(w, "capture webhook test", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"captured": true,
			"nodeId":   event.NodeID,
			"format":   event.Format,
		})
	}
}

func DispatchHandler(d *service.Dispatcher, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, "dispatch", fmt.Errorf("%w: limit must be a positive integer", service.ErrInvalidArgument))
				return
			}
			limit = n
		}
		report, err := d.DispatchBatch(r.Context(), limit)
		if err != nil {
			writeError(w, "dispatch", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func ListPlansHandler(svc *service.PlanService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plans, err := svc.ListPlans(models.PlanStatus(r.URL.Query().Get("status")))
		if err != nil {
			writeError(w, "list plans", err)
			return
		}
		writeJSON(w, http.StatusOK, plans)
	}
}

func CreatePlanHandler(svc *service.PlanService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var plan models.ContentPlan
		if err := decodeBody(r, &plan); err != nil {
			writeError(w, "create plan", err)
			return
		}
		created, err := svc.CreatePlan(plan)
		if err != nil {
			writeError(w, "create plan", err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func RequeuePlanHandler(svc *service.PlanService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := svc.RequeuePlan(id); err != nil {
			writeError(w, "requeue plan", err)
			return
		}
		plan, err := svc.GetPlan(id)
		if err != nil {
			writeError(w, "requeue plan", err)
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}

func workflowID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid workflow id '%s'", service.ErrInvalidArgument, r.PathValue("id"))
	}
	return id, nil
}

func decodeBody(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", service.ErrInvalidArgument, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.GetLogger().Errorf("Failed to %s: %v", op, err)
	} else {
		log.GetLogger().Debugf("Rejected %s: %v", op, err)
	}
	msg := err.Error()
	if status == http.StatusGone {
		msg = "webhook test token is unknown, used or expired"
	}
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTokenNotFound):
		return http.StatusGone
	case errors.Is(err, storage.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrClaimFailed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
