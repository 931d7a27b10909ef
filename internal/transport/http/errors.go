package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"turing-study/internal/study"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteHTTPError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code})
}

// MapStudyError turns coordinator and engine errors into a status and a
// stable error code.
func MapStudyError(err error) (int, string) {
	switch {
	case errors.Is(err, study.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, study.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, study.ErrInvalidTurn):
		return http.StatusBadRequest, "invalid_turn"
	case errors.Is(err, study.ErrNoRole):
		return http.StatusConflict, "no_role_assigned"
	case errors.Is(err, study.ErrNoPartner):
		return http.StatusConflict, "no_partner_matched"
	case errors.Is(err, study.ErrChatNotReady):
		return http.StatusConflict, "chat_not_ready"
	case errors.Is(err, study.ErrNotActive):
		return http.StatusConflict, "session_not_active"
	case errors.Is(err, study.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition"
	case errors.Is(err, study.ErrRoleImmutable):
		return http.StatusConflict, "role_immutable"
	case errors.Is(err, study.ErrWitnessCannotRate):
		return http.StatusForbidden, "witness_cannot_rate"
	case errors.Is(err, study.ErrRetryable):
		return http.StatusServiceUnavailable, "retryable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request_canceled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeStudyError(w http.ResponseWriter, err error) {
	status, code := MapStudyError(err)
	if status == http.StatusInternalServerError {
		metricInternalErrors.Add(1)
	}
	WriteHTTPError(w, status, code)
}
