package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/inventory"
)

type InventoryHandler struct {
	Manager    *inventory.Manager
	DefaultTTL time.Duration
	Logger     *zap.Logger
}

type CreateReservationReq struct {
	ProductID         string `json:"product_id" validate:"required"`
	CustomerID        string `json:"customer_id" validate:"required"`
	Quantity          int    `json:"quantity" validate:"gt=0"`
	TTLSeconds        int    `json:"ttl_seconds" validate:"gte=0"`
	ExternalReference string `json:"external_reference"`
}

type ConfirmReservationReq struct {
	OrderID string `json:"order_id" validate:"required"`
}

type DeleteReservationReq struct {
	DeletedBy string `json:"deleted_by" validate:"required"`
	Reason    string `json:"reason"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Post("/reservations", h.create)
	r.Get("/reservations", h.list)
	r.Get("/reservations/{id}", h.get)
	r.Post("/reservations/{id}/confirm", h.confirm)
	r.Post("/reservations/{id}/release", h.release)
	r.Delete("/reservations/{id}", h.softDelete)
	r.Get("/products/{id}/reserved", h.reserved)
}

func (h *InventoryHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationReq
	if !decode(w, r, &req) {
		return
	}
	ttl := h.DefaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	var opts []inventory.CreateOption
	if req.ExternalReference != "" {
		opts = append(opts, inventory.WithExternalReference(req.ExternalReference))
	}
	res, err := h.Manager.CreateReservation(r.Context(), req.ProductID, req.CustomerID, req.Quantity, ttl, opts...)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *InventoryHandler) get(w http.ResponseWriter, r *http.Request) {
	res, err := h.Manager.GetReservation(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("include_deleted") == "true")
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// list filters by exactly one of product_id, customer_id, order_id or status.
func (h *InventoryHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		out []inventory.Reservation
		err error
	)
	switch {
	case q.Get("product_id") != "":
		out, err = h.Manager.ListByProduct(r.Context(), q.Get("product_id"))
	case q.Get("customer_id") != "":
		out, err = h.Manager.ListByCustomer(r.Context(), q.Get("customer_id"))
	case q.Get("order_id") != "":
		out, err = h.Manager.ListByOrder(r.Context(), q.Get("order_id"))
	case q.Get("status") != "":
		out, err = h.Manager.ListByStatus(r.Context(), inventory.Status(q.Get("status")), 0)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "one of product_id, customer_id, order_id, status is required"})
		return
	}
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *InventoryHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmReservationReq
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Manager.ConfirmReservation(r.Context(), chi.URLParam(r, "id"), req.OrderID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) release(w http.ResponseWriter, r *http.Request) {
	res, err := h.Manager.ReleaseReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) softDelete(w http.ResponseWriter, r *http.Request) {
	var req DeleteReservationReq
	if !decode(w, r, &req) {
		return
	}
	if err := h.Manager.SoftDeleteReservation(r.Context(), chi.URLParam(r, "id"), req.DeletedBy, req.Reason); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// reserved accepts a comma separated id list in place of the path id:
// /products/A,B,C/reserved
func (h *InventoryHandler) reserved(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(chi.URLParam(r, "id"), ",")
	if len(ids) == 1 {
		n, err := h.Manager.GetTotalReserved(r.Context(), ids[0])
		if err != nil {
			writeError(w, r, h.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{ids[0]: n})
		return
	}
	totals, err := h.Manager.GetTotalReservedBulk(r.Context(), ids)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
