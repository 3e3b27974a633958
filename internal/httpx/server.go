package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-pricing/internal/apperr"
	"github.com/ariefcatur/marketplace-pricing/internal/discount"
	"github.com/ariefcatur/marketplace-pricing/internal/inventory"
	"github.com/ariefcatur/marketplace-pricing/internal/orders"
)

func NewRouter(logger *zap.Logger, gatherer prometheus.Gatherer, timeout time.Duration) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, requestLogger(logger))
	r.Use(middleware.Timeout(timeout))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

var validate = validator.New()

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into dst and runs its validate tags. It writes
// the 400 itself and reports false when the request is unusable.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": formatValidation(verrs)})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func formatValidation(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			out[field] = fmt.Sprintf("%s is required", field)
		case "gt":
			out[field] = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
		case "gte":
			out[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
		case "min":
			out[field] = fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
		default:
			out[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return out
}

// writeError maps an error kind to a status code. Unclassified errors are
// logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var (
		shortage *inventory.ShortageError
		rejected *discount.RejectedError
	)
	switch {
	case errors.As(err, &shortage):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "insufficient stock", "shortages": shortage.Items})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid discount", "code": rejected.Code, "reason": rejected.Reason})
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "dependency unavailable"})
	case errors.Is(err, discount.ErrDuplicateCode), errors.Is(err, orders.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		switch apperr.Kind(err) {
		case apperr.ErrValidation:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case apperr.ErrNotFound:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case apperr.ErrConcurrencyExhausted:
			writeJSON(w, http.StatusConflict, map[string]string{"error": "resource is busy, try again"})
		case apperr.ErrBusinessRule:
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		default:
			logger.Error("request failed",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
	}
}
