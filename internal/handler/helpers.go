package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/product"
	"github.com/vasiliy-maslov/marketplace/internal/review"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

type contextKey string

// UserIDKey — ключ контекста, под которым middleware аутентификации кладёт
// идентификатор покупателя.
const UserIDKey contextKey = "userID"

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("handler: failed to write JSON response")
	}
}

// mapErrorToStatusCode превращает доменные ошибки в стабильные HTTP-коды:
// клиент должен отличать «не хватает баллов» от «повторите позже».
func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, stock.ErrStockNotFound),
		errors.Is(err, review.ErrReviewNotFound),
		errors.Is(err, user.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrForbidden),
		errors.Is(err, review.ErrNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, review.ErrReviewExists),
		errors.Is(err, user.ErrEmailExists),
		errors.Is(err, review.ErrOptimisticLockFailed):
		return http.StatusConflict
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidInput),
		errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrInsufficientPoints),
		errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, review.ErrInvalidRating):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondWithDomainError(w http.ResponseWriter, err error) {
	code := mapErrorToStatusCode(err)
	if code == http.StatusInternalServerError {
		respondWithError(w, code, "internal server error")
		return
	}
	respondWithError(w, code, err.Error())
}

func requireUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "user identity is required")
		return uuid.Nil, false
	}
	return id, true
}
