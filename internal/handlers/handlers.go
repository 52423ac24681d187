package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
	"github.com/julienbonastre/fba-inbound-helpers/internal/metrics"
	"github.com/julienbonastre/fba-inbound-helpers/internal/workflow"
)

const (
	sessionName       = "fbainbound-selection"
	pendingPlanKey    = "inboundPlanId"
	maxConfirmPayload = 1 << 16
)

// TotalsAPI fetches shipped/received quantities
type TotalsAPI interface {
	GetPlanQuantityTotals(ctx context.Context, inboundPlanID string) (inbound.QuantityTotals, error)
	GetShipmentQuantityTotals(ctx context.Context, shipmentID string) (inbound.QuantityTotals, error)
	GetShipmentQuantityTotalsForSKU(ctx context.Context, shipmentID, sku string) (inbound.QuantityTotals, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	workflows *workflow.Orchestrator
	totals    TotalsAPI
	sessions  sessions.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(workflows *workflow.Orchestrator, totals TotalsAPI, store sessions.Store, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		workflows: workflows,
		totals:    totals,
		sessions:  store,
		metrics:   m,
		logger:    logger.Named("http"),
	}
}

// Routes registers the API on mux
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.HealthCheck)
	mux.HandleFunc("GET /api/plans/{id}/options", h.GetPlacementOptions)
	mux.HandleFunc("GET /api/selection", h.GetSelection)
	mux.HandleFunc("POST /api/plans/{id}/confirm", h.ConfirmPlacementOption)
	mux.HandleFunc("GET /api/plans/{id}/totals", h.GetPlanTotals)
	mux.HandleFunc("GET /api/shipments/{id}/totals", h.GetShipmentTotals)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

// JSON response helper
func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// Error response helper
func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}

// failure maps a workflow error to an HTTP status
func (h *Handler) failure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.logger.Info("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	h.errorResponse(w, status, err.Error())
}

func statusFor(err error) int {
	var (
		guard     *inbound.PalletGuardError
		pre       *inbound.PreconditionError
		invalid   *inbound.ValidationError
		noOptions *inbound.NoOptionsError
		timeout   *inbound.OperationTimeoutError
		failed    *inbound.OperationFailedError
		remote    *inbound.RemoteRequestError
		partial   *inbound.PartialFetchError
	)
	switch {
	case errors.As(err, &guard),
		errors.Is(err, inbound.ErrPlanBusy),
		errors.Is(err, inbound.ErrPlanAlreadyConfirmed):
		return http.StatusConflict
	case errors.Is(err, inbound.ErrOptionNotFound), errors.As(err, &noOptions):
		return http.StatusNotFound
	case errors.As(err, &pre), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &timeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &failed), errors.As(err, &remote), errors.As(err, &partial):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// session returns the selection session, nil when no store is configured
func (h *Handler) session(r *http.Request) *sessions.Session {
	if h.sessions == nil {
		return nil
	}
	session, err := h.sessions.Get(r, sessionName)
	if err != nil {
		h.logger.Warn("discarding unreadable session", zap.Error(err))
	}
	return session
}

// HealthCheck returns API health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func selectionResponse(sel *workflow.Selection, all bool) map[string]any {
	options := sel.Selectable
	if all {
		options = sel.Options
	}
	summaries := make([]inbound.OptionSummary, len(options))
	for i, o := range options {
		summaries[i] = inbound.Summarize(o)
	}
	return map[string]any{
		"inboundPlanId": sel.Plan.InboundPlanID,
		"link":          sel.Plan.Link,
		"options":       summaries,
		"total":         len(sel.Options),
		"hidden":        len(sel.Options) - len(sel.Selectable),
	}
}

// GetPlacementOptions lists the options of a plan and remembers the plan as
// the session's pending selection. Pallet-like options are hidden unless all=1.
func (h *Handler) GetPlacementOptions(w http.ResponseWriter, r *http.Request) {
	planID := r.PathValue("id")
	sel, ok, err := h.workflows.CachedSelection(planID)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	if !ok || r.URL.Query().Get("refresh") == "1" {
		if sel, err = h.workflows.PlacementOptions(r.Context(), planID); err != nil {
			h.failure(w, r, err)
			return
		}
	}

	if session := h.session(r); session != nil {
		session.Values[pendingPlanKey] = planID
		if err := session.Save(r, w); err != nil {
			h.logger.Error("failed to save session", zap.Error(err))
		}
	}

	h.jsonResponse(w, http.StatusOK, selectionResponse(sel, r.URL.Query().Get("all") == "1"))
}

// GetSelection returns the session's pending plan and its cached options
func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	var planID string
	if session := h.session(r); session != nil {
		planID, _ = session.Values[pendingPlanKey].(string)
	}
	if planID == "" {
		h.errorResponse(w, http.StatusNotFound, "no pending placement selection")
		return
	}
	sel, ok, err := h.workflows.CachedSelection(planID)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	if !ok {
		h.jsonResponse(w, http.StatusOK, map[string]any{"inboundPlanId": planID, "options": []inbound.OptionSummary{}, "expired": true})
		return
	}
	h.jsonResponse(w, http.StatusOK, selectionResponse(sel, r.URL.Query().Get("all") == "1"))
}

type confirmRequest struct {
	PlacementOptionID string `json:"placementOptionId"`
	AllowPallet       bool   `json:"allowPallet"`
}

// ConfirmPlacementOption confirms the chosen option of a plan
func (h *Handler) ConfirmPlacementOption(w http.ResponseWriter, r *http.Request) {
	planID := r.PathValue("id")
	var req confirmRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfirmPayload)).Decode(&req); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.PlacementOptionID == "" {
		h.errorResponse(w, http.StatusBadRequest, "placementOptionId is required")
		return
	}

	result, err := h.workflows.ConfirmPlacementOption(r.Context(), planID, req.PlacementOptionID, req.AllowPallet)
	if err != nil {
		h.failure(w, r, err)
		return
	}

	if session := h.session(r); session != nil {
		if pending, _ := session.Values[pendingPlanKey].(string); pending == planID {
			delete(session.Values, pendingPlanKey)
			if err := session.Save(r, w); err != nil {
				h.logger.Warn("failed to clear pending selection", zap.Error(err))
			}
		}
	}
	h.jsonResponse(w, http.StatusOK, result)
}

// GetPlanTotals returns shipped/received totals over all shipments of a plan
func (h *Handler) GetPlanTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.totals.GetPlanQuantityTotals(r.Context(), r.PathValue("id"))
	if err != nil {
		h.failure(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, totalsResponse(totals))
}

// GetShipmentTotals returns totals of one shipment, optionally for one SKU
func (h *Handler) GetShipmentTotals(w http.ResponseWriter, r *http.Request) {
	shipmentID := r.PathValue("id")
	var (
		totals inbound.QuantityTotals
		err    error
	)
	if sku := r.URL.Query().Get("sku"); sku != "" {
		totals, err = h.totals.GetShipmentQuantityTotalsForSKU(r.Context(), shipmentID, sku)
	} else {
		totals, err = h.totals.GetShipmentQuantityTotals(r.Context(), shipmentID)
	}
	if err != nil {
		h.failure(w, r, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, totalsResponse(totals))
}

func totalsResponse(t inbound.QuantityTotals) map[string]any {
	return map[string]any{
		"quantityShipped":  t.QuantityShipped,
		"quantityReceived": t.QuantityReceived,
		"shipmentIds":      t.ShipmentIDs,
		"status":           t.Status().String(),
	}
}
