// Package api exposes the worker's HTTP surface: plan and provider
// management, execution history, health, and the websocket attach point.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lingfromSh/message-sub000/internal/domain"
	"github.com/lingfromSh/message-sub000/internal/provider"
	"github.com/lingfromSh/message-sub000/internal/wspool"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	CreatePlan(ctx context.Context, plan domain.Plan) error
	GetPlan(ctx context.Context, id uuid.UUID) (domain.Plan, error)
	ListPlans(ctx context.Context, limit, offset int) ([]domain.Plan, error)
	DeletePlan(ctx context.Context, id uuid.UUID) error
	ListExecutions(ctx context.Context, planID uuid.UUID, limit, offset int) ([]domain.PlanExecution, error)
	CreateProvider(ctx context.Context, p domain.Provider) error
}

// ProviderRegistry resolves provider kinds; used to reject providers of
// kinds this worker cannot send through.
type ProviderRegistry interface {
	Resolve(kind string) (provider.Provider, error)
}

// ConnectionPool accepts upgraded websocket connections.
type ConnectionPool interface {
	Add(ws wspool.Transport) string
	Len() int
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store     Store
	providers ProviderRegistry
	pool      ConnectionPool
	db        HealthChecker
	upgrader  websocket.Upgrader
}

func NewHandler(store Store, providers ProviderRegistry) *Handler {
	return &Handler{
		store:     store,
		providers: providers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// WithPool sets the connection pool backing the /ws endpoint.
func (h *Handler) WithPool(pool ConnectionPool) *Handler {
	h.pool = pool
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/ws" && r.Method == http.MethodGet:
		h.connect(w, r)

	case path == "/plans" && r.Method == http.MethodPost:
		h.createPlan(w, r)

	case path == "/plans" && r.Method == http.MethodGet:
		h.listPlans(w, r)

	case strings.HasSuffix(path, "/executions") && r.Method == http.MethodGet:
		h.listExecutions(w, r)

	case strings.HasPrefix(path, "/plans/") && r.Method == http.MethodGet:
		h.getPlan(w, r)

	case strings.HasPrefix(path, "/plans/") && r.Method == http.MethodDelete:
		h.deletePlan(w, r)

	case path == "/providers" && r.Method == http.MethodPost:
		h.createProvider(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status      string            `json:"status"`
	Connections int               `json:"connections"`
	Components  map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := HealthResponse{Status: "ok"}
	if h.pool != nil {
		resp.Connections = h.pool.Len()
	}

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Components = make(map[string]string)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// connect upgrades the request and hands the connection to the pool. The
// pool owns the connection from that point; the first frame it sends back
// carries the assigned connection id.
func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "websocket pool not configured")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}

	id := h.pool.Add(ws)

	greeting, err := json.Marshal(ConnectResponse{ConnectionID: id})
	if err == nil {
		if writeErr := ws.WriteMessage(websocket.TextMessage, greeting); writeErr != nil {
			log.Printf("api: websocket greeting failed: %v", writeErr)
		}
	}
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreatePlan(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := planFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := plan.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreatePlan(r.Context(), plan); err != nil {
		log.Printf("api: create plan error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create plan")
		return
	}

	writeJSON(w, http.StatusCreated, planResponse(plan))
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := planIDFromPath(w, r.URL.Path)
	if !ok {
		return
	}

	plan, err := h.store.GetPlan(r.Context(), planID)
	if err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		log.Printf("api: get plan error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get plan")
		return
	}

	writeJSON(w, http.StatusOK, planResponse(plan))
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plans, err := h.store.ListPlans(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list plans error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}

	resp := ListPlansResponse{Plans: make([]PlanResponse, len(plans))}
	for i, plan := range plans {
		resp.Plans[i] = planResponse(plan)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	// Extract plan ID from path: /plans/{id}/executions
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "plans" || parts[2] != "executions" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	planID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan id")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	executions, err := h.store.ListExecutions(r.Context(), planID, limit, offset)
	if err != nil {
		log.Printf("api: list executions error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := ListExecutionsResponse{Executions: make([]ExecutionResponse, len(executions))}
	for i, exec := range executions {
		resp.Executions[i] = ExecutionResponse{
			ID:            exec.ID.String(),
			PlanID:        exec.PlanID.String(),
			Status:        string(exec.Status),
			TimeToExecute: formatTime(exec.TimeToExecute),
			Reasons:       exec.Reasons,
			CreatedAt:     formatTime(exec.CreatedAt),
			FinishedAt:    formatTimePtr(exec.FinishedAt),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deletePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := planIDFromPath(w, r.URL.Path)
	if !ok {
		return
	}

	if err := h.store.DeletePlan(r.Context(), planID); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		log.Printf("api: delete plan error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete plan")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createProvider(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateCreateProvider(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.providers != nil {
		if _, err := h.providers.Resolve(req.Kind); err != nil {
			writeError(w, http.StatusBadRequest, "unknown provider kind "+strconv.Quote(req.Kind))
			return
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	doc := domain.Provider{
		ID:        uuid.New(),
		Name:      req.Name,
		Kind:      req.Kind,
		Enabled:   enabled,
		Config:    req.Config,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateProvider(r.Context(), doc); err != nil {
		log.Printf("api: create provider error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create provider")
		return
	}

	writeJSON(w, http.StatusCreated, ProviderResponse{
		ID:        doc.ID.String(),
		Name:      doc.Name,
		Kind:      doc.Kind,
		Enabled:   doc.Enabled,
		CreatedAt: formatTime(doc.CreatedAt),
	})
}

// planIDFromPath extracts the plan ID from /plans/{id}, writing the error
// response itself when the path or ID is malformed.
func planIDFromPath(w http.ResponseWriter, path string) (uuid.UUID, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] != "plans" {
		writeError(w, http.StatusNotFound, "not found")
		return uuid.Nil, false
	}

	planID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan id")
		return uuid.Nil, false
	}

	return planID, true
}

func planFromRequest(req CreatePlanRequest) (domain.Plan, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	plan := domain.Plan{
		ID:        uuid.New(),
		Name:      req.Name,
		Enabled:   enabled,
		Triggers:  make([]domain.Trigger, len(req.Triggers)),
		SubPlans:  make([]domain.SubPlan, len(req.SubPlans)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for i, trig := range req.Triggers {
		t := domain.Trigger{
			Kind:     domain.TriggerKind(trig.Kind),
			CronExpr: trig.CronExpr,
			Timezone: trig.Timezone,
			EndTime:  trig.EndTime,
		}
		if trig.FireAt != nil {
			t.FireAt = *trig.FireAt
		}
		if trig.StartTime != nil {
			t.StartTime = *trig.StartTime
		} else {
			t.StartTime = now
		}
		switch t.Kind {
		case domain.TriggerKindTimer:
			t.RepeatTime = 1
		case domain.TriggerKindRepeat:
			t.RepeatTime = domain.RepeatInfinite
		}
		if trig.RepeatTime != nil {
			t.RepeatTime = *trig.RepeatTime
		}
		plan.Triggers[i] = t
	}

	for i, sp := range req.SubPlans {
		providerID, err := uuid.Parse(sp.ProviderID)
		if err != nil {
			return domain.Plan{}, err
		}
		plan.SubPlans[i] = domain.SubPlan{ProviderID: providerID, Payload: sp.Payload}
	}

	return plan, nil
}

func planResponse(plan domain.Plan) PlanResponse {
	resp := PlanResponse{
		ID:        plan.ID.String(),
		Name:      plan.Name,
		Enabled:   plan.Enabled,
		Triggers:  make([]TriggerResponse, len(plan.Triggers)),
		SubPlans:  make([]SubPlanResponse, len(plan.SubPlans)),
		CreatedAt: formatTime(plan.CreatedAt),
	}

	for i, t := range plan.Triggers {
		tr := TriggerResponse{
			Kind:        string(t.Kind),
			CronExpr:    t.CronExpr,
			Timezone:    t.Timezone,
			StartTime:   formatTime(t.StartTime),
			EndTime:     formatTimePtr(t.EndTime),
			RepeatTime:  t.RepeatTime,
			LastTrigger: formatTimePtr(t.LastTrigger),
		}
		if !t.FireAt.IsZero() {
			tr.FireAt = formatTime(t.FireAt)
		}
		resp.Triggers[i] = tr
	}

	for i, sp := range plan.SubPlans {
		resp.SubPlans[i] = SubPlanResponse{ProviderID: sp.ProviderID.String(), Payload: sp.Payload}
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
