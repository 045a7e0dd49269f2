package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/core/service"
	"github.com/sitewise/stockledger/internal/port"
)

type HTTPHandler struct {
	receipts    *service.ReceiptService
	transfers   *service.TransferService
	requests    *service.RequestService
	aggregation *service.AggregationService
	store       port.InventoryStore
	audit       port.AuditLog
	sites       port.SiteRegistry
	validate    *validator.Validate
}

func NewHTTPHandler(
	receipts *service.ReceiptService,
	transfers *service.TransferService,
	requests *service.RequestService,
	aggregation *service.AggregationService,
	store port.InventoryStore,
	audit port.AuditLog,
	sites port.SiteRegistry,
) *HTTPHandler {
	return &HTTPHandler{
		receipts:    receipts,
		transfers:   transfers,
		requests:    requests,
		aggregation: aggregation,
		store:       store,
		audit:       audit,
		sites:       sites,
		validate:    validator.New(),
	}
}

// Router mounts the API. The surrounding application enforces authorization
// before these endpoints are reached; actor fields are trusted for audit.
func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Post("/receipts", h.Receive)
		r.Post("/transfers", h.Transfer)

		r.Post("/requests", h.CreateRequest)
		r.Get("/requests", h.ListRequests)
		r.Get("/requests/{id}", h.GetRequest)
		r.Post("/requests/{id}/approve", h.ApproveRequest)
		r.Post("/requests/{id}/reject", h.RejectRequest)
		r.Post("/requests/{id}/receive", h.ReceiveRequest)

		r.Get("/stock", h.ListStock)
		r.Put("/stock/min-level", h.SetMinLevel)
		r.Get("/stock/low", h.ListLowStock)
		r.Get("/stock/item", h.StockByItem)
		r.Get("/sites", h.ListSites)
		r.Get("/audit", h.AuditFeed)
	})
	return r
}

type ReceiptRequest struct {
	RequestID string          `json:"request_id"`
	Site      string          `json:"site" validate:"required"`
	ItemName  string          `json:"item_name" validate:"required"`
	ItemUnit  string          `json:"item_unit" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Actor     string          `json:"actor" validate:"required"`
}

type TransferRequest struct {
	RequestID  string          `json:"request_id"`
	SourceSite string          `json:"source_site" validate:"required"`
	DestSite   string          `json:"dest_site" validate:"required"`
	ItemName   string          `json:"item_name" validate:"required"`
	ItemUnit   string          `json:"item_unit" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
	Actor      string          `json:"actor" validate:"required"`
}

type MaterialRequestCreate struct {
	Site     string          `json:"site" validate:"required"`
	ItemName string          `json:"item_name" validate:"required"`
	ItemUnit string          `json:"item_unit" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	TaskID   string          `json:"task_id"`
	Actor    string          `json:"actor" validate:"required"`
}

type RequestAction struct {
	UnitCost decimal.Decimal `json:"unit_cost"`
	Actor    string          `json:"actor" validate:"required"`
}

type RecordResponse struct {
	Site      string    `json:"site"`
	ItemName  string    `json:"item_name"`
	ItemUnit  string    `json:"item_unit"`
	Quantity  string    `json:"quantity"`
	UnitCost  string    `json:"unit_cost"`
	MinLevel  string    `json:"min_level"`
	LowStock  bool      `json:"low_stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TransferResponse struct {
	TransferID string         `json:"transfer_id"`
	Source     RecordResponse `json:"source"`
	Dest       RecordResponse `json:"dest"`
}

type MaterialRequestResponse struct {
	ID          string    `json:"id"`
	Site        string    `json:"site"`
	ItemName    string    `json:"item_name"`
	ItemUnit    string    `json:"item_unit"`
	Quantity    string    `json:"quantity"`
	TaskID      string    `json:"task_id,omitempty"`
	State       string    `json:"state"`
	RequestedBy string    `json:"requested_by,omitempty"`
	ApprovedBy  string    `json:"approved_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func toRecordResponse(rec domain.InventoryRecord) RecordResponse {
	return RecordResponse{
		Site:      rec.Site,
		ItemName:  rec.Item.Name,
		ItemUnit:  rec.Item.Unit,
		Quantity:  rec.Quantity.String(),
		UnitCost:  rec.UnitCost.String(),
		MinLevel:  rec.MinLevel.String(),
		LowStock:  rec.LowStock(),
		UpdatedAt: rec.UpdatedAt,
	}
}

func toRequestResponse(req domain.MaterialRequest) MaterialRequestResponse {
	return MaterialRequestResponse{
		ID:          req.ID,
		Site:        req.Site,
		ItemName:    req.Item.Name,
		ItemUnit:    req.Item.Unit,
		Quantity:    req.Quantity.String(),
		TaskID:      req.TaskID,
		State:       string(req.State),
		RequestedBy: req.RequestedBy,
		ApprovedBy:  req.ApprovedBy,
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	}
}

func (h *HTTPHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiptRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := domain.NewItemIdentity(req.ItemName, req.ItemUnit)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.receipts.Receive(r.Context(), req.Site, item, req.Quantity, req.UnitCost, req.Actor, req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(*rec))
}

func (h *HTTPHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := domain.NewItemIdentity(req.ItemName, req.ItemUnit)
	if err != nil {
		writeError(w, err)
		return
	}

	intent := domain.TransferIntent{
		SourceSite: req.SourceSite,
		DestSite:   req.DestSite,
		Item:       item,
		Quantity:   req.Quantity,
	}
	result, err := h.transfers.Transfer(r.Context(), intent, req.Actor, req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResponse{
		TransferID: result.TransferID,
		Source:     toRecordResponse(result.Source),
		Dest:       toRecordResponse(result.Dest),
	})
}

func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req MaterialRequestCreate
	if !h.decode(w, r, &req) {
		return
	}
	item, err := domain.NewItemIdentity(req.ItemName, req.ItemUnit)
	if err != nil {
		writeError(w, err)
		return
	}

	created, err := h.requests.Create(r.Context(), req.Site, item, req.Quantity, req.TaskID, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestResponse(*created))
}

func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(*req))
}

func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	site := r.URL.Query().Get("site")
	if site == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "site query parameter is required"})
		return
	}
	reqs, err := h.requests.ListSite(r.Context(), site)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]MaterialRequestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toRequestResponse(req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.requests.Approve)
}

func (h *HTTPHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.requests.Reject)
}

func (h *HTTPHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, actor string) (*domain.MaterialRequest, error)) {
	var action RequestAction
	if !h.decode(w, r, &action) {
		return
	}
	req, err := fn(r.Context(), chi.URLParam(r, "id"), action.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestResponse(*req))
}

func (h *HTTPHandler) ReceiveRequest(w http.ResponseWriter, r *http.Request) {
	var action RequestAction
	if !h.decode(w, r, &action) {
		return
	}
	req, rec, err := h.requests.Receive(r.Context(), chi.URLParam(r, "id"), action.UnitCost, action.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"request": toRequestResponse(*req),
		"record":  toRecordResponse(*rec),
	})
}

type RollupResponse struct {
	ItemName      string           `json:"item_name"`
	ItemUnit      string           `json:"item_unit"`
	TotalQuantity string           `json:"total_quantity"`
	TotalValue    string           `json:"total_value"`
	AverageCost   string           `json:"average_cost"`
	Sites         []RecordResponse `json:"sites"`
}

func toRollupResponse(r service.ItemRollup) RollupResponse {
	out := RollupResponse{
		ItemName:      r.Item.Name,
		ItemUnit:      r.Item.Unit,
		TotalQuantity: r.TotalQuantity.String(),
		TotalValue:    r.TotalValue.String(),
		AverageCost:   r.AverageCost.String(),
	}
	for _, s := range r.Sites {
		out.Sites = append(out.Sites, RecordResponse{
			Site:     s.Site,
			ItemName: r.Item.Name,
			ItemUnit: r.Item.Unit,
			Quantity: s.Quantity.String(),
			UnitCost: s.UnitCost.String(),
			MinLevel: s.MinLevel.String(),
			LowStock: s.LowStock,
		})
	}
	return out
}

func (h *HTTPHandler) ListStock(w http.ResponseWriter, r *http.Request) {
	rollups, err := h.aggregation.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]RollupResponse, 0, len(rollups))
	for _, ru := range rollups {
		out = append(out, toRollupResponse(ru))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) StockByItem(w http.ResponseWriter, r *http.Request) {
	item, err := domain.NewItemIdentity(r.URL.Query().Get("name"), r.URL.Query().Get("unit"))
	if err != nil {
		writeError(w, err)
		return
	}
	ru, err := h.aggregation.ByItem(r.Context(), item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRollupResponse(*ru))
}

type MinLevelRequest struct {
	Site     string          `json:"site" validate:"required"`
	ItemName string          `json:"item_name" validate:"required"`
	ItemUnit string          `json:"item_unit" validate:"required"`
	MinLevel decimal.Decimal `json:"min_level"`
}

func (h *HTTPHandler) SetMinLevel(w http.ResponseWriter, r *http.Request) {
	var req MinLevelRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := domain.NewItemIdentity(req.ItemName, req.ItemUnit)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.MinLevel.IsNegative() {
		writeError(w, domain.ErrInvalidQuantity)
		return
	}
	if _, ok := h.sites.Lookup(req.Site); !ok {
		writeError(w, domain.ErrUnknownSite)
		return
	}

	if err := h.store.SetMinLevel(r.Context(), req.Site, item, req.MinLevel); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.store.Get(r.Context(), req.Site, item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(*rec))
}

func (h *HTTPHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	records, err := h.aggregation.LowStock(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sites.All())
}

type AuditEntryResponse struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Site          string    `json:"site"`
	ItemName      string    `json:"item_name"`
	ItemUnit      string    `json:"item_unit"`
	QuantityDelta string    `json:"quantity_delta"`
	Actor         string    `json:"actor,omitempty"`
	TransferID    string    `json:"transfer_id,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *HTTPHandler) AuditFeed(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := h.audit.Recent(r.Context(), r.URL.Query().Get("site"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:            e.ID,
			Kind:          string(e.Kind),
			Site:          e.Site,
			ItemName:      e.Item.Name,
			ItemUnit:      e.Item.Unit,
			QuantityDelta: e.QuantityDelta.String(),
			Actor:         e.Actor,
			TransferID:    e.TransferID,
			RequestID:     e.RequestID,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode unmarshals and validates a JSON body, writing the error response
// itself when the input is bad.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing required fields"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: "internal error"}

	switch {
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidCost),
		errors.Is(err, domain.ErrInvalidItem),
		errors.Is(err, domain.ErrSameSite),
		errors.Is(err, domain.ErrUnknownSite):
		status = http.StatusBadRequest
		resp.Error = err.Error()
	case errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrRequestNotFound):
		status = http.StatusNotFound
		resp.Error = err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		status = http.StatusGone
		resp.Error = domain.ErrInsufficientStock.Error()
	case errors.Is(err, domain.ErrDuplicateRequest):
		status = http.StatusConflict
		resp.Error = domain.ErrDuplicateRequest.Error()
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		resp.Error = domain.ErrConflict.Error()
		resp.Retryable = true
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
		resp.Error = domain.ErrInvalidTransition.Error()
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusGatewayTimeout
		resp.Error = domain.ErrTimeout.Error()
		resp.Retryable = true
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
