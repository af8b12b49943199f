package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/validation"
)

var validate = validation.New()

const storageNotProvisionedMessage = "storage is not provisioned: run `clinicdesk migrate` to apply the database schema"

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors onto status codes. fallback is the
// message used for unexpected failures, whose details are only logged.
func respondServiceError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error, fallback string) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "insufficient_stock",
			"details": stockErr.Shortages,
		})
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
	case errors.Is(err, domain.ErrStorageNotProvisioned):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("storage not provisioned")
		respondError(w, http.StatusServiceUnavailable, storageNotProvisionedMessage)
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(fallback)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}
