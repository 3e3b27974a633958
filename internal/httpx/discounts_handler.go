package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/discount"
)

type DiscountsHandler struct {
	Discounts *discount.Service
	Validator *discount.Validator
	Logger    *zap.Logger
}

type CreateDiscountReq struct {
	Code               string          `json:"code" validate:"required"`
	Type               string          `json:"type" validate:"required"`
	Value              decimal.Decimal `json:"value"`
	ValidFrom          time.Time       `json:"valid_from" validate:"required"`
	ValidTo            time.Time       `json:"valid_to" validate:"required"`
	MinimumOrderAmount decimal.Decimal `json:"minimum_order_amount"`
	ApplicableStoreID  *string         `json:"applicable_store_id"`
	Description        string          `json:"description"`
	UsageLimit         int             `json:"usage_limit" validate:"gte=0"`
	CreatedBy          string          `json:"created_by" validate:"required"`
}

type UpdateDiscountReq struct {
	Code               *string          `json:"code"`
	Type               *string          `json:"type"`
	Value              *decimal.Decimal `json:"value"`
	ValidFrom          *time.Time       `json:"valid_from"`
	ValidTo            *time.Time       `json:"valid_to"`
	MinimumOrderAmount *decimal.Decimal `json:"minimum_order_amount"`
	ApplicableStoreID  *string          `json:"applicable_store_id"`
	Description        *string          `json:"description"`
	IsActive           *bool            `json:"is_active"`
	UsageLimit         *int             `json:"usage_limit"`
	UpdatedBy          string           `json:"updated_by" validate:"required"`
}

type DeleteDiscountReq struct {
	DeletedBy string `json:"deleted_by" validate:"required"`
	Reason    string `json:"reason"`
}

type ValidateDiscountsReq struct {
	Codes    []string        `json:"codes" validate:"required,min=1"`
	Subtotal decimal.Decimal `json:"subtotal"`
	StoreIDs []string        `json:"store_ids" validate:"required,min=1"`
}

type ValidateDiscountsResp struct {
	Valid  []discount.Applied   `json:"valid"`
	Errors []discount.CodeError `json:"errors"`
}

func (h *DiscountsHandler) Register(r chi.Router) {
	r.Post("/discounts", h.create)
	r.Post("/discounts/validate", h.validateCodes)
	r.Get("/discounts/{id}", h.get)
	r.Patch("/discounts/{id}", h.update)
	r.Delete("/discounts/{id}", h.remove)
	r.Get("/stores/{id}/discounts", h.byStore)
}

func (h *DiscountsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateDiscountReq
	if !decode(w, r, &req) {
		return
	}
	typ, err := discount.ParseType(req.Type)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	d, err := h.Discounts.Create(r.Context(), discount.CreateInput{
		Code:               req.Code,
		Type:               typ,
		Value:              req.Value,
		ValidFrom:          req.ValidFrom,
		ValidTo:            req.ValidTo,
		MinimumOrderAmount: req.MinimumOrderAmount,
		ApplicableStoreID:  req.ApplicableStoreID,
		Description:        req.Description,
		UsageLimit:         req.UsageLimit,
		CreatedBy:          req.CreatedBy,
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *DiscountsHandler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateDiscountReq
	if !decode(w, r, &req) {
		return
	}
	in := discount.UpdateInput{
		Code:               req.Code,
		Value:              req.Value,
		ValidFrom:          req.ValidFrom,
		ValidTo:            req.ValidTo,
		MinimumOrderAmount: req.MinimumOrderAmount,
		ApplicableStoreID:  req.ApplicableStoreID,
		Description:        req.Description,
		IsActive:           req.IsActive,
		UsageLimit:         req.UsageLimit,
		UpdatedBy:          req.UpdatedBy,
	}
	if req.Type != nil {
		typ, err := discount.ParseType(*req.Type)
		if err != nil {
			writeError(w, r, h.Logger, err)
			return
		}
		in.Type = &typ
	}
	d, err := h.Discounts.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DiscountsHandler) remove(w http.ResponseWriter, r *http.Request) {
	var req DeleteDiscountReq
	if !decode(w, r, &req) {
		return
	}
	if err := h.Discounts.Delete(r.Context(), chi.URLParam(r, "id"), req.DeletedBy, req.Reason); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DiscountsHandler) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.Discounts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DiscountsHandler) byStore(w http.ResponseWriter, r *http.Request) {
	list, err := h.Discounts.GetByStore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// validateCodes checks codes without spending them. Rejections are part of
// a 200 response, one entry per code.
func (h *DiscountsHandler) validateCodes(w http.ResponseWriter, r *http.Request) {
	var req ValidateDiscountsReq
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Validator.ValidateMultiple(r.Context(), req.Codes, req.Subtotal, req.StoreIDs)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	resp := ValidateDiscountsResp{Valid: []discount.Applied{}, Errors: res.Errors}
	for _, d := range res.Valid {
		resp.Valid = append(resp.Valid, discount.Applied{Code: d.Code, Type: d.Type, Amount: discount.Amount(d, req.Subtotal)})
	}
	if resp.Errors == nil {
		resp.Errors = []discount.CodeError{}
	}
	writeJSON(w, http.StatusOK, resp)
}
