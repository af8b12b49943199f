package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/inventory"
	"clinicdesk/m/internal/validation"
)

type inventoryRequest struct {
	ID                string `json:"id"`
	Name              string `json:"name" validate:"min=2"`
	Description       string `json:"description" validate:"max=200"`
	Unit              string `json:"unit" validate:"max=20"`
	Quantity          int64  `json:"quantity" validate:"gte=0,lte=1000000"`
	LowStockThreshold int64  `json:"low_stock_threshold" validate:"gte=0,lte=1000000"`
}

type adjustRequest struct {
	ID       string `json:"id"`
	Delta    *int64 `json:"delta" validate:"omitempty,min=-1000000,max=1000000"`
	Quantity *int64 `json:"quantity" validate:"omitempty,gte=0,lte=1000000"`
}

func (h *Handler) listInventory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, clinicalRoles...) {
		return
	}
	items, err := h.ledger.ListItems(r.Context())
	if err != nil {
		respondServiceError(w, r, h.log, err, "unable to list inventory")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, clinicalRoles...) {
		return
	}
	items, err := h.ledger.ListLowStock(r.Context())
	if err != nil {
		respondServiceError(w, r, h.log, err, "unable to list low stock")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) getInventory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, clinicalRoles...) {
		return
	}
	item, err := h.ledger.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, h.log, err, "unable to fetch inventory item")
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockKeepRoles...) {
		return
	}
	rows, err := h.ledger.ListAdjustments(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	if err != nil {
		respondServiceError(w, r, h.log, err, "unable to list adjustments")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) addInventory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockKeepRoles...) {
		return
	}
	var req inventoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	req.Unit = strings.TrimSpace(req.Unit)
	if err := validate.Struct(req); err != nil {
		respondServiceError(w, r, h.log, validation.Error(err), "invalid inventory item")
		return
	}

	item, err := h.ledger.AddItem(r.Context(), inventory.NewItem{
		ID:                req.ID,
		Name:              req.Name,
		Description:       req.Description,
		Unit:              req.Unit,
		Quantity:          req.Quantity,
		LowStockThreshold: req.LowStockThreshold,
	}, staffID(r))
	if err != nil {
		respondServiceError(w, r, h.log, err, "unable to save inventory item")
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// adjustInventory applies either an absolute quantity or a delta. quantity
// wins when both are present; a zero delta counts as absent.
func (h *Handler) adjustInventory(w http.ResponseWriter, r *http.Request) {
	if !h.requireRole(w, r, stockKeepRoles...) {
		return
	}
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if err := validate.Struct(req); err != nil {
		respondServiceError(w, r, h.log, validation.Error(err), "invalid stock adjustment")
		return
	}
	hasDelta := req.Delta != nil && *req.Delta != 0
	if req.ID == "" || (!hasDelta && req.Quantity == nil) {
		respondError(w, http.StatusBadRequest, "provide id with delta or a non-negative quantity")
		return
	}

	var (
		item *domain.InventoryItem
		err  error
	)
	if req.Quantity != nil {
		item, err = h.ledger.SetQuantity(r.Context(), req.ID, *req.Quantity, "Manual set", staffID(r))
	} else {
		item, err = h.ledger.AdjustQuantity(r.Context(), req.ID, *req.Delta, "Manual adjustment", staffID(r))
	}
	if err != nil {
		respondServiceError(w, r, h.log, err, "unable to update stock")
		return
	}
	respondJSON(w, http.StatusOK, item)
}
