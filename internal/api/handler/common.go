package handler

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/validation"
)

// maxBodyBytes caps request bodies. Inventories are the largest payload.
const maxBodyBytes = 4 << 20

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response in the standard envelope.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &domain.StandardErrorResponse{
		Error: domain.StandardError{Code: code, Message: message},
	})
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	var verrs validation.ValidationErrors
	var verr *validation.ValidationError
	var busy *domain.LockBusyError
	var autoErr *domain.AutomationError

	switch {
	case errors.As(err, &verrs):
		respondValidationErrors(w, verrs)
	case errors.As(err, &verr):
		respondValidationErrors(w, validation.ValidationErrors{verr})
	case errors.As(err, &busy):
		w.Header().Set("Retry-After", retryAfter(busy.Deadline))
		respondJSON(w, http.StatusConflict, &domain.StandardErrorResponse{Error: domain.StandardError{
			Code:    domain.ErrCodeOperationInProgress,
			Message: err.Error(),
			Details: map[string]any{"holder": busy.Holder, "deadline": busy.Deadline},
		}})
	case errors.As(err, &autoErr):
		respondJSON(w, http.StatusBadGateway, &domain.StandardErrorResponse{Error: domain.StandardError{
			Code:    domain.ErrCodeAutomationFailed,
			Message: err.Error(),
			Details: map[string]any{"hosts": autoErr.Hosts},
		}})
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, domain.ErrCodeResourceNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		respondError(w, http.StatusConflict, domain.ErrCodeResourceAlreadyExists, err.Error())
	case errors.Is(err, domain.ErrConflict):
		respondError(w, http.StatusConflict, domain.ErrCodeResourceAlreadyExists, err.Error())
	case errors.Is(err, domain.ErrPreconditionFailed):
		respondError(w, http.StatusPreconditionFailed, domain.ErrCodePreconditionFailed, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "invalid credentials or token")
	default:
		respondError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error")
	}
}

// retryAfter renders the seconds until deadline, at least one.
func retryAfter(deadline time.Time) string {
	secs := math.Ceil(time.Until(deadline).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(int(secs))
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrInvalidInput
	}
	return nil
}

// respondValidationErrors writes a JSON response for validation errors.
func respondValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	se := domain.StandardError{
		Code:    domain.ErrCodeValidationError,
		Message: errs.Error(),
		Details: map[string]any{"errors": errs},
	}
	if len(errs) > 0 {
		se.Field = errs[0].Field
	}
	respondJSON(w, http.StatusBadRequest, &domain.StandardErrorResponse{Error: se})
}

// respondOperation writes the outcome of a dispatched call: 200 when
// everything succeeded, 207 when some of it did, 502 when nothing did.
func respondOperation(w http.ResponseWriter, status domain.Status, body any) {
	code := http.StatusOK
	switch status {
	case domain.StatusPartial:
		code = http.StatusMultiStatus
	case domain.StatusFailed:
		code = http.StatusBadGateway
	}
	respondJSON(w, code, body)
}
