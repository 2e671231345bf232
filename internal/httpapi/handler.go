package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/ecommerce-orders/internal/order"
	"github.com/jcmexdev/ecommerce-orders/internal/order/journal"
)

// JournalReader lists the audit trail of one order. Satisfied by the SQLite
// journal store; nil disables the audit endpoint.
type JournalReader interface {
	ListByOrder(ctx context.Context, orderID int64) ([]journal.Entry, error)
}

// Handler exposes the order aggregate over HTTP. Every mutating endpoint
// follows the same shape: load, mutate in memory, flush.
type Handler struct {
	repo    *order.Repository
	catalog order.PriceCatalog
	journal JournalReader
}

func NewHandler(repo *order.Repository, catalog order.PriceCatalog, journal JournalReader) *Handler {
	return &Handler{repo: repo, catalog: catalog, journal: journal}
}

// CreateOrder builds a new aggregate from the request and flushes it once,
// materializing the order with its items and fees in a single save.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Email == "" && req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "email or user_id is required")
		return
	}

	o := h.repo.NewOrder(req.Currency, order.Mode(req.Mode))
	o.SetEmail(req.Email)
	if req.UserID != 0 {
		o.SetUserID(req.UserID)
	}
	if req.FirstName != "" || req.LastName != "" {
		o.SetName(req.FirstName, req.LastName)
	}
	if req.Address != nil {
		o.SetAddress(*req.Address)
	}
	if req.Gateway != "" {
		o.SetGateway(req.Gateway)
	}
	if len(req.Discounts) > 0 {
		o.SetDiscounts(req.Discounts)
	}
	if req.TaxRate != "" {
		rate, err := decimal.NewFromString(req.TaxRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tax_rate", err.Error())
			return
		}
		o.SetTaxRate(rate)
	}

	for _, fee := range req.Fees {
		if err := h.addFee(o, fee); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	for _, item := range req.Items {
		if err := h.addItem(r.Context(), o, item); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	if err := h.repo.Save(r.Context(), o); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.InfoContext(r.Context(), "order created", "order_id", o.ID, "total", o.Total.String())
	writeJSON(w, http.StatusCreated, mapOrderToResponse(o))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(o))
}

// UpdateOrder applies scalar field updates and flushes. A status update that
// names the current status is benign: the remaining fields still apply.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	o, ok := h.load(w, r)
	if !ok {
		return
	}

	if req.Status != nil {
		if err := o.SetStatus(*req.Status); err != nil && !errors.Is(err, order.ErrNoChange) {
			writeDomainError(w, err)
			return
		}
	}
	if req.Gateway != nil {
		o.SetGateway(*req.Gateway)
	}
	if req.TransactionID != nil {
		o.SetTransactionID(*req.TransactionID)
	}
	if req.Email != nil {
		o.SetEmail(*req.Email)
	}
	if req.FirstName != nil || req.LastName != nil {
		first, last := o.FirstName, o.LastName
		if req.FirstName != nil {
			first = *req.FirstName
		}
		if req.LastName != nil {
			last = *req.LastName
		}
		o.SetName(first, last)
	}
	if req.UserID != nil {
		o.SetUserID(*req.UserID)
	}
	if req.Address != nil {
		o.SetAddress(*req.Address)
	}
	if req.Discounts != nil {
		o.SetDiscounts(*req.Discounts)
	}
	if req.TaxRate != nil {
		rate, err := decimal.NewFromString(*req.TaxRate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tax_rate", err.Error())
			return
		}
		o.SetTaxRate(rate)
	}
	if req.DateCompleted != nil {
		o.SetDateCompleted(*req.DateCompleted)
	}

	h.flush(w, r, o)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	o, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.addItem(r.Context(), o, req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.flush(w, r, o)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	var req RemoveItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	o, ok := h.load(w, r)
	if !ok {
		return
	}

	args := order.RemoveItemArgs{
		Quantity:  req.Quantity,
		PriceID:   req.PriceID,
		CartIndex: req.CartIndex,
	}
	if req.UnitPrice != nil {
		p, err := decimal.NewFromString(*req.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_unit_price", err.Error())
			return
		}
		args.UnitPrice = &p
	}
	if err := o.RemoveItem(req.ProductID, args); err != nil {
		writeDomainError(w, err)
		return
	}
	h.flush(w, r, o)
}

// ModifyItem alters one line in place. A proposal that changes nothing skips
// the flush entirely.
func (h *Handler) ModifyItem(w http.ResponseWriter, r *http.Request) {
	cartIndex, err := strconv.Atoi(chi.URLParam(r, "cartIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_cart_index", err.Error())
		return
	}

	var req ModifyItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	o, ok := h.load(w, r)
	if !ok {
		return
	}

	var args order.ModifyItemArgs
	if req.UnitPrice != nil {
		p, err := decimal.NewFromString(*req.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_unit_price", err.Error())
			return
		}
		args.UnitPrice = &p
	}
	if req.Tax != nil {
		t, err := decimal.NewFromString(*req.Tax)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tax", err.Error())
			return
		}
		args.Tax = &t
	}
	if req.Discount != nil {
		d, err := decimal.NewFromString(*req.Discount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_discount", err.Error())
			return
		}
		args.Discount = &d
	}
	args.Quantity = req.Quantity

	changed, err := o.ModifyItem(cartIndex, args)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !changed {
		writeJSON(w, http.StatusOK, mapOrderToResponse(o))
		return
	}
	h.flush(w, r, o)
}

func (h *Handler) AddFee(w http.ResponseWriter, r *http.Request) {
	var req FeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	o, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.addFee(o, req); err != nil {
		writeDomainError(w, err)
		return
	}
	h.flush(w, r, o)
}

func (h *Handler) RemoveFee(w http.ResponseWriter, r *http.Request) {
	key, err := strconv.ParseInt(chi.URLParam(r, "key"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_fee_key", err.Error())
		return
	}

	o, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := o.RemoveFee(key); err != nil {
		writeDomainError(w, err)
		return
	}
	h.flush(w, r, o)
}

// Refund transitions the order to refunded; the counter decrements run as
// part of the flush.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	o, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := o.SetStatus(string(order.StatusRefunded)); err != nil {
		if errors.Is(err, order.ErrNoChange) {
			writeJSON(w, http.StatusOK, mapOrderToResponse(o))
			return
		}
		writeDomainError(w, err)
		return
	}
	h.flush(w, r, o)
}

func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "journal_disabled", "")
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	entries, err := h.journal.ListByOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]JournalEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = JournalEntryResponse{
			Action:     string(e.Action),
			Detail:     e.Detail,
			TraceID:    e.TraceID,
			SpanID:     e.SpanID,
			RecordedAt: e.RecordedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) addItem(ctx context.Context, o *order.Order, req AddItemRequest) error {
	args := order.AddItemArgs{
		Quantity: req.Quantity,
		PriceID:  req.PriceID,
	}
	if req.UnitPrice != nil {
		p, err := decimal.NewFromString(*req.UnitPrice)
		if err != nil {
			return err
		}
		args.UnitPrice = &p
	}
	if req.Discount != "" {
		d, err := decimal.NewFromString(req.Discount)
		if err != nil {
			return err
		}
		args.Discount = d
	}
	if req.Tax != "" {
		t, err := decimal.NewFromString(req.Tax)
		if err != nil {
			return err
		}
		args.Tax = t
	}
	_, err := o.AddItem(ctx, h.catalog, req.ProductID, args)
	return err
}

func (h *Handler) addFee(o *order.Order, req FeeRequest) error {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return err
	}
	o.AddFee(order.Fee{
		Label:     req.Label,
		Amount:    amount,
		Type:      order.FeeType(req.Type),
		NoTax:     req.NoTax,
		ProductID: req.ProductID,
		PriceID:   req.PriceID,
	})
	return nil
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*order.Order, bool) {
	id, ok := orderID(w, r)
	if !ok {
		return nil, false
	}
	o, err := h.repo.Load(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return o, true
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request, o *order.Order) {
	if err := h.repo.Save(r.Context(), o); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(o))
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_order_id", "")
		return 0, false
	}
	return id, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, order.ErrPersistence):
		writeError(w, http.StatusBadGateway, "storage_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
