package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/opensource-finance/scoregate/internal/cache"
	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/features"
	"github.com/opensource-finance/scoregate/internal/gate"
	"github.com/opensource-finance/scoregate/internal/repository"
	"github.com/opensource-finance/scoregate/internal/rules"
	"github.com/opensource-finance/scoregate/internal/scoring"
	"github.com/opensource-finance/scoregate/internal/submission"
	"github.com/opensource-finance/scoregate/internal/validation"
)

const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	service *submission.Service
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler.
func NewHandler(service *submission.Service, cache domain.Cache, version string) *Handler {
	return &Handler{
		service: service,
		cache:   cache,
		version: version,
	}
}

// form is a decoded loan application body.
type form struct {
	app       domain.LoanApplication
	coercions []domain.Coercion
}

// readForm decodes the application in the request body. An optional
// "customer360" object fills the fields the form left empty.
func readForm(w http.ResponseWriter, r *http.Request) (form, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return form{}, false
	}

	app, coercions, err := features.DecodeApplication(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return form{}, false
	}

	if c360 := gjson.GetBytes(body, "customer360"); c360.IsObject() {
		merged, more, err := features.MergeCustomer360(app, []byte(c360.Raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid customer360 record")
			return form{}, false
		}
		app = merged
		coercions = append(coercions, more...)
	}
	return form{app: app, coercions: coercions}, true
}

// EvaluateCompliance handles POST /compliance/evaluate.
func (h *Handler) EvaluateCompliance(w http.ResponseWriter, r *http.Request) {
	f, ok := readForm(w, r)
	if !ok {
		return
	}
	result := h.service.Evaluator.EvaluateApplication(f.app)
	writeJSON(w, http.StatusOK, result)
}

// ComplianceReport handles POST /compliance/report.
func (h *Handler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	f, ok := readForm(w, r)
	if !ok {
		return
	}
	a := f.app
	report := h.service.Evaluator.Report(a.LoanAmount, a.MonthlyIncome, a.LoanTermMonths, a.InterestRate, a.CustomerType())
	writeJSON(w, http.StatusOK, report)
}

// ValidateResponse is the response for POST /validate.
type ValidateResponse struct {
	Valid     bool                          `json:"valid"`
	Errors    []*validation.ValidationError `json:"errors"`
	Warnings  []validation.Warning          `json:"warnings"`
	Coercions []domain.Coercion             `json:"coercions,omitempty"`
}

// Validate handles POST /validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	f, ok := readForm(w, r)
	if !ok {
		return
	}
	res := validation.ValidateApplication(f.app)
	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:     res.Valid(),
		Errors:    res.Errors,
		Warnings:  res.Warnings,
		Coercions: f.coercions,
	})
}

// TransformResponse is the response for POST /features/transform.
type TransformResponse struct {
	CustomerID string                             `json:"customerId"`
	Count      int                                `json:"count"`
	Features   domain.FeatureVector               `json:"features"`
	Groups     map[string]map[string]domain.Value `json:"groups"`
	Coercions  []domain.Coercion                  `json:"coercions,omitempty"`
}

// Transform handles POST /features/transform. The application velocity
// signal is previewed without being recorded.
func (h *Handler) Transform(w http.ResponseWriter, r *http.Request) {
	f, ok := readForm(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	app := f.app
	if h.service.Velocity != nil {
		previewed, err := h.service.Velocity.Preview(ctx, GetTenantID(ctx), app)
		if err != nil {
			slog.Warn("velocity preview failed", "tenant_id", GetTenantID(ctx), "error", err)
		}
		app = previewed
	}

	res := h.service.Transformer.Transform(app)
	writeJSON(w, http.StatusOK, TransformResponse{
		CustomerID: app.CustomerID,
		Count:      len(res.Features),
		Features:   res.Features,
		Groups:     features.Grouped(res.Features),
		Coercions:  append(f.coercions, res.Coercions...),
	})
}

// Catalog handles GET /features/catalog.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"features": features.Catalog(),
		"groups":   features.Groups(),
		"count":    features.Size(),
	})
}

// GetSession handles GET /sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := h.service.Gates.Get(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// EvaluateResponse is the response for POST /sessions/{id}/evaluate.
type EvaluateResponse struct {
	*submission.Evaluation
	Coercions []domain.Coercion `json:"coercions,omitempty"`
}

// EvaluateSession handles POST /sessions/{id}/evaluate.
func (h *Handler) EvaluateSession(w http.ResponseWriter, r *http.Request) {
	f, ok := readForm(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	eval, err := h.service.Evaluate(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), f.app)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{Evaluation: eval, Coercions: f.coercions})
}

// OverrideRequest is the request body for POST /sessions/{id}/override.
type OverrideRequest struct {
	Reason       string `json:"reason"`
	SupervisorID string `json:"supervisorId"`
}

// Override handles POST /sessions/{id}/override.
func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || !gjson.ValidBytes(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	req := OverrideRequest{
		Reason:       gjson.GetBytes(body, "reason").String(),
		SupervisorID: firstString(body, "supervisorId", "supervisor_id"),
	}

	ctx := r.Context()
	sess, err := h.service.Override(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), domain.OverrideRecord{
		Reason:       req.Reason,
		SupervisorID: req.SupervisorID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Submit handles POST /sessions/{id}/submit. A queued submission answers
// 202, a scored one 201.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	f, ok := readForm(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	sub, err := h.service.Submit(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), f.app, f.coercions)
	if err != nil {
		// A failed scoring call still stores the submission.
		if sub != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":      err.Error(),
				"submission": sub,
			})
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if sub.Status == domain.SubmissionPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, sub)
}

// GetSubmission handles GET /submissions/{id}.
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub, err := h.service.Repo.GetSubmission(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// AuditTrail handles GET /customers/{id}/audit.
func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events, err := h.service.Audit.Trail(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// ListRules returns the tenant's loaded product rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.service.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rules engine not available")
		return
	}
	loaded := h.service.Engine.GetLoadedRules(GetTenantID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule returns a stored rule configuration.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rule, err := h.service.Repo.GetRuleConfig(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule compiles and stores a product rule for the tenant. Stored
// rules take effect after POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.service.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rules engine not available")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	var req CreateRuleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}
	if req.Version == "" {
		req.Version = "1.0.0"
	}

	cfg := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}
	if err := h.service.Engine.ValidateRule(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	if err := h.service.Repo.SaveRuleConfig(ctx, tenantID, cfg); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	slog.Info("rule created", "tenant_id", tenantID, "id", cfg.ID, "version", cfg.Version)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    cfg,
		"message": "Rule saved. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule soft-deletes a rule and reloads the tenant's rules.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.service.Repo.DeleteRuleConfig(ctx, tenantID, ruleID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	count := 0
	if h.service.Engine != nil {
		n, err := rules.Load(ctx, h.service.Repo, h.service.Engine, tenantID)
		if err != nil {
			slog.Error("failed to reload rules after delete", "tenant_id", tenantID, "error", err)
		}
		count = n
	}

	slog.Info("rule deleted", "tenant_id", tenantID, "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rule deleted",
		"count":   count,
	})
}

// ReloadRules reloads the tenant's rules from the repository into the
// engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.service.Engine == nil {
		writeError(w, http.StatusServiceUnavailable, "rules engine not available")
		return
	}

	count, err := rules.Load(ctx, h.service.Repo, h.service.Engine, tenantID)
	if err != nil {
		slog.Error("failed to reload rules", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// Health reports the state of the repository, cache and event bus.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	status := "healthy"

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.service.Repo != nil {
		check("repository", func() error { return h.service.Repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.service.Bus != nil {
		check("bus", func() error { return h.service.Bus.Ping(ctx) })
	}

	body := map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	}
	if sc, ok := h.cache.(interface{ Stats() cache.LRUStats }); ok {
		body["cache"] = sc.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.service.Repo != nil {
		if err := h.service.Repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// writeServiceError maps service errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *submission.InvalidError
	var blocked *submission.BlockedError

	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    "application is invalid",
			"errors":   invalid.Result.Errors,
			"warnings": invalid.Result.Warnings,
		})
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      blocked.Error(),
			"violations": blocked.Verdict.Violations,
		})
	case errors.Is(err, gate.ErrSubmitInFlight), errors.Is(err, gate.ErrOverrideNotApplicable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gate.ErrOverrideRejected), errors.Is(err, gate.ErrSessionRequired),
		errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, scoring.ErrRemote), errors.Is(err, scoring.ErrNotConfigured):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"tenant_id", GetTenantID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func firstString(body []byte, keys ...string) string {
	for _, k := range keys {
		if v := gjson.GetBytes(body, k); v.Exists() {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
