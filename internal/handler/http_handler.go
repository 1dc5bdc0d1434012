package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-sales-approvals/internal/approval"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-sales-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-sales-approvals/internal/repository"
	"github.com/pesio-ai/be-sales-approvals/internal/service"
)

// UserIDHeader carries the acting user's id.
const UserIDHeader = "X-User-ID"

// ApprovalAPI is the order workflow as used by the transports.
type ApprovalAPI interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest, actorID int64) (*approval.Order, error)
	GetOrder(ctx context.Context, orderID string) (*approval.Order, error)
	ListOrders(ctx context.Context, status string, limit, offset int) ([]*approval.Order, error)
	UpdateAmount(ctx context.Context, orderID string, amount decimal.Decimal, actorID int64) (*approval.Order, error)
	RequestConfirm(ctx context.Context, orderID string, actorID int64) (*service.ConfirmResult, error)
	SendForApproval(ctx context.Context, orderID string, actorID int64) (*approval.Order, error)
	Approve(ctx context.Context, orderID string, actorID int64) (*approval.Order, error)
	Cancel(ctx context.Context, orderID string, actorID int64) (*approval.Order, error)
	Resolve(ctx context.Context, amount decimal.Decimal) (approval.Resolution, error)
	CanUserApprove(ctx context.Context, orderID string, actorID int64) (bool, error)
	GetApprovalHistory(ctx context.Context, orderID string) ([]*repository.AuditEntry, error)
	GetPendingActivities(ctx context.Context, actorID int64) ([]*repository.Activity, error)
}

// SettingsAPI reads and writes the approval ranges.
type SettingsAPI interface {
	GetSettings(ctx context.Context) (approval.Settings, error)
	UpdateSettings(ctx context.Context, settings approval.Settings, actorID int64) error
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals ApprovalAPI
	settings  SettingsAPI
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(approvals ApprovalAPI, settings SettingsAPI, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		settings:  settings,
		log:       log,
	}
}

// Register mounts all API routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListOrders(w, r)
		case http.MethodPost:
			h.CreateOrder(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/orders/get", h.GetOrder)
	mux.HandleFunc("/api/v1/orders/amount", h.UpdateAmount)
	mux.HandleFunc("/api/v1/orders/confirm", h.RequestConfirm)
	mux.HandleFunc("/api/v1/orders/send-for-approval", h.SendForApproval)
	mux.HandleFunc("/api/v1/orders/approve", h.Approve)
	mux.HandleFunc("/api/v1/orders/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/orders/history", h.GetHistory)
	mux.HandleFunc("/api/v1/approvals/resolve", h.Resolve)
	mux.HandleFunc("/api/v1/approvals/pending", h.PendingActivities)
	mux.HandleFunc("/api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetSettings(w, r)
		case http.MethodPut:
			h.UpdateSettings(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// ── Orders ────────────────────────────────────────────────────────────────────

type createOrderRequest struct {
	Name         string          `json:"name"`
	CustomerName string          `json:"customer_name"`
	Currency     string          `json:"currency"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

type orderIDRequest struct {
	ID string `json:"id"`
}

type updateAmountRequest struct {
	ID          string          `json:"id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type orderResponse struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	CustomerName     string          `json:"customer_name"`
	Currency         string          `json:"currency"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Status           approval.Status `json:"status"`
	ApprovalRequired bool            `json:"approval_required"`
	ApprovalLevel    string          `json:"approval_level"`
	CanApprove       *bool           `json:"can_approve,omitempty"`
	CreatedBy        int64           `json:"created_by"`
	ApprovedBy       *int64          `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func toOrderResponse(o *approval.Order) *orderResponse {
	return &orderResponse{
		ID:               o.ID,
		Name:             o.Name,
		CustomerName:     o.CustomerName,
		Currency:         o.Currency,
		TotalAmount:      o.TotalAmount,
		Status:           o.Status,
		ApprovalRequired: o.ApprovalRequired,
		ApprovalLevel:    o.ApprovalLevel,
		CreatedBy:        o.CreatedBy,
		ApprovedBy:       o.ApprovedBy,
		ApprovedAt:       o.ApprovedAt,
		Version:          o.Version,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

// CreateOrder handles create order HTTP requests
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	order, err := h.approvals.CreateOrder(r.Context(), service.CreateOrderRequest{
		Name:         req.Name,
		CustomerName: req.CustomerName,
		Currency:     req.Currency,
		TotalAmount:  req.TotalAmount,
	}, actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrder returns an order. When an acting user is given, can_approve is filled in.
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		h.writeError(w, r, errors.InvalidInput("id", "order id is required"))
		return
	}

	order, err := h.approvals.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := toOrderResponse(order)

	if r.Header.Get(UserIDHeader) != "" {
		actorID, ok := h.actor(w, r)
		if !ok {
			return
		}
		can, err := h.approvals.CanUserApprove(r.Context(), orderID, actorID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.CanApprove = &can
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListOrders handles list orders HTTP requests
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	orders, err := h.approvals.ListOrders(r.Context(), q.Get("status"), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]*orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": out,
		"limit":  limit,
		"offset": offset,
	})
}

// UpdateAmount reprices a draft order
func (h *HTTPHandler) UpdateAmount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req updateAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		h.writeError(w, r, errors.InvalidInput("body", "id and total_amount are required"))
		return
	}

	order, err := h.approvals.UpdateAmount(r.Context(), req.ID, req.TotalAmount, actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// RequestConfirm handles the confirm button: it either confirms the order or
// parks it for approval.
func (h *HTTPHandler) RequestConfirm(w http.ResponseWriter, r *http.Request) {
	orderID, actorID, ok := h.orderAction(w, r)
	if !ok {
		return
	}

	result, err := h.approvals.RequestConfirm(r.Context(), orderID, actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action":         result.Action,
		"approval_level": result.Resolution.Level,
		"order":          toOrderResponse(result.Order),
	})
}

// SendForApproval handles explicit submission for approval
func (h *HTTPHandler) SendForApproval(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.approvals.SendForApproval)
}

// Approve handles approve HTTP requests
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.approvals.Approve)
}

// Cancel handles cancel HTTP requests
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.approvals.Cancel)
}

func (h *HTTPHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, orderID string, actorID int64) (*approval.Order, error),
) {
	orderID, actorID, ok := h.orderAction(w, r)
	if !ok {
		return
	}

	order, err := fn(r.Context(), orderID, actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// GetHistory returns the audit trail of an order
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		h.writeError(w, r, errors.InvalidInput("id", "order id is required"))
		return
	}

	entries, err := h.approvals.GetApprovalHistory(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	type entryResponse struct {
		ID           string                 `json:"id"`
		Action       string                 `json:"action"`
		PerformedBy  int64                  `json:"performed_by"`
		PerformedAt  time.Time              `json:"performed_at"`
		StatusBefore *string                `json:"status_before,omitempty"`
		StatusAfter  *string                `json:"status_after,omitempty"`
		Metadata     map[string]interface{} `json:"metadata,omitempty"`
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:           e.ID,
			Action:       e.Action,
			PerformedBy:  e.PerformedBy,
			PerformedAt:  e.PerformedAt,
			StatusBefore: e.StatusBefore,
			StatusAfter:  e.StatusAfter,
			Metadata:     e.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": out})
}

// ── Approvals ─────────────────────────────────────────────────────────────────

// Resolve reports which approval range an amount falls into
func (h *HTTPHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		h.writeError(w, r, errors.InvalidInput("amount", "amount must be a decimal number"))
		return
	}

	res, err := h.approvals.Resolve(r.Context(), amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"required":       res.Required,
		"range":          res.Range,
		"approval_level": res.Level,
		"approver":       res.Approver,
	})
}

// PendingActivities lists the approval reminders addressed to the acting user
func (h *HTTPHandler) PendingActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	activities, err := h.approvals.GetPendingActivities(r.Context(), actorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	type activityResponse struct {
		ID        string    `json:"id"`
		OrderID   string    `json:"order_id"`
		Type      string    `json:"activity_type"`
		Summary   string    `json:"summary"`
		Note      string    `json:"note"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]activityResponse, 0, len(activities))
	for _, a := range activities {
		out = append(out, activityResponse{
			ID:        a.ID,
			OrderID:   a.OrderID,
			Type:      a.ActivityType,
			Summary:   a.Summary,
			Note:      a.Note,
			CreatedAt: a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"activities": out})
}

// ── Settings ──────────────────────────────────────────────────────────────────

type rangeDTO struct {
	MinAmount decimal.Decimal  `json:"min_amount"`
	MaxAmount *decimal.Decimal `json:"max_amount"`
	Approver  string           `json:"approver"`
}

type settingsDTO struct {
	Enabled bool       `json:"enabled"`
	Ranges  []rangeDTO `json:"ranges"`
}

// GetSettings returns the current approval configuration
func (h *HTTPHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetSettings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	dto := settingsDTO{Enabled: settings.Enabled}
	for _, rg := range settings.Ranges {
		dto.Ranges = append(dto.Ranges, rangeDTO{MinAmount: rg.Min, MaxAmount: rg.Max, Approver: rg.Approver})
	}
	writeJSON(w, http.StatusOK, dto)
}

// UpdateSettings replaces the approval configuration
func (h *HTTPHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}

	var dto settingsDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if len(dto.Ranges) != approval.RangeCount {
		h.writeError(w, r, errors.InvalidInput("ranges", "exactly 3 ranges are required"))
		return
	}

	settings := approval.Settings{Enabled: dto.Enabled}
	for i, rg := range dto.Ranges {
		settings.Ranges[i] = approval.Range{Min: rg.MinAmount, Max: rg.MaxAmount, Approver: rg.Approver}
	}

	if err := h.settings.UpdateSettings(r.Context(), settings, actorID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── helpers ───────────────────────────────────────────────────────────────────

// actor parses the acting user header. A missing header yields 0, which the
// service rejects as unauthorized.
func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.writeError(w, r, errors.InvalidInput(UserIDHeader, "user id must be an integer"))
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) orderAction(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", 0, false
	}
	actorID, ok := h.actor(w, r)
	if !ok {
		return "", 0, false
	}

	var req orderIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		h.writeError(w, r, errors.InvalidInput("id", "order id is required"))
		return "", 0, false
	}
	return req.ID, actorID, true
}

type errorBody struct {
	Error struct {
		Code    errors.ErrorCode `json:"code"`
		Message string           `json:"message"`
		Field   string           `json:"field,omitempty"`
	} `json:"error"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Wrap(err, code, "internal error")
	}
	status := appErr.HTTPStatus()

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("code", string(code)).Msg("Request failed")
	} else {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Str("code", string(code)).Int("status", status).Msg("Request rejected")
	}

	var body errorBody
	body.Error.Code = appErr.Code
	body.Error.Message = appErr.Message
	body.Error.Field = appErr.Field
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
