package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/orders"
)

type OrdersHandler struct {
	Orders *orders.Service
	Logger *zap.Logger
}

type PriceReq struct {
	CustomerID    string             `json:"customer_id" validate:"required"`
	Items         []orders.ItemInput `json:"items" validate:"required,min=1,dive"`
	City          string             `json:"city"`
	Country       string             `json:"country"`
	DiscountCodes []string           `json:"discount_codes"`
}

func (p PriceReq) request() orders.PriceRequest {
	return orders.PriceRequest{
		CustomerID:    p.CustomerID,
		Items:         p.Items,
		City:          p.City,
		Country:       p.Country,
		DiscountCodes: p.DiscountCodes,
	}
}

type PlaceOrderReq struct {
	PriceReq
	ExternalID string `json:"external_id"`
}

type PlaceOrderResp struct {
	Order      *orders.Order `json:"order"`
	Idempotent bool          `json:"idempotent"`
}

type AdminItemReq struct {
	ProductID string          `json:"product_id" validate:"required"`
	SellerID  string          `json:"seller_id" validate:"required"`
	Qty       int             `json:"qty" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type AdminOrderReq struct {
	ExternalID     string          `json:"external_id"`
	CustomerID     string          `json:"customer_id" validate:"required"`
	Items          []AdminItemReq  `json:"items" validate:"required,min=1,dive"`
	City           string          `json:"city"`
	Country        string          `json:"country"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Total          decimal.Decimal `json:"total"`
	CreatedBy      string          `json:"created_by" validate:"required"`
}

type StatusReq struct {
	Status string `json:"status" validate:"required"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders/quote", h.quote)
	r.Post("/orders", h.place)
	r.Post("/orders/admin", h.placeAdmin)
	r.Get("/orders/{id}", h.get)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Get("/customers/{id}/orders", h.listByCustomer)
}

func (h *OrdersHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req PriceReq
	if !decode(w, r, &req) {
		return
	}
	calc, err := h.Orders.Quote(r.Context(), req.request())
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

func (h *OrdersHandler) place(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if !decode(w, r, &req) {
		return
	}
	key := req.ExternalID
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	o, replay, err := h.Orders.PlaceOrder(r.Context(), orders.PlaceInput{
		IdempotencyKey: key,
		Request:        req.request(),
		CreatedBy:      req.CustomerID,
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	code := http.StatusCreated
	if replay {
		code = http.StatusOK
	}
	writeJSON(w, code, PlaceOrderResp{Order: o, Idempotent: replay})
}

func (h *OrdersHandler) placeAdmin(w http.ResponseWriter, r *http.Request) {
	var req AdminOrderReq
	if !decode(w, r, &req) {
		return
	}
	items := make([]orders.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.OrderItem{ProductID: it.ProductID, SellerID: it.SellerID, Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	o, err := h.Orders.PlaceAdminOrder(r.Context(), orders.AdminOrderInput{
		ExternalID:     req.ExternalID,
		CustomerID:     req.CustomerID,
		Items:          items,
		City:           req.City,
		Country:        req.Country,
		Subtotal:       req.Subtotal,
		DiscountAmount: req.DiscountAmount,
		ShippingCost:   req.ShippingCost,
		Total:          req.Total,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusReq
	if !decode(w, r, &req) {
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), orders.Status(req.Status))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listByCustomer(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.ListByCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
