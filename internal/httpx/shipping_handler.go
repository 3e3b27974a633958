package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/shipping"
)

type ShippingHandler struct {
	Resolver *shipping.Resolver
	Logger   *zap.Logger
}

func (h *ShippingHandler) Register(r chi.Router) {
	r.Get("/shipping/options", h.options)
	r.Get("/shipping/quote", h.quote)
}

// GET /shipping/options?city=&country=&store_id=
func (h *ShippingHandler) options(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.Resolver.GetAvailableDeliveryOptions(r.Context(), q.Get("city"), q.Get("country"), q.Get("store_id")))
}

func (h *ShippingHandler) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("store_id") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "store_id is required"})
		return
	}
	quote, err := h.Resolver.Quote(r.Context(), q.Get("city"), q.Get("country"), q.Get("store_id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
