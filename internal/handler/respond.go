package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
)

type errorResponse struct {
	Code    errors.ErrorCode  `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// statusFor maps an error code to its HTTP status.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnauthorized:
		return http.StatusForbidden
	case errors.ErrCodeInvalidState, errors.ErrCodeAlreadyDecided, errors.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	resp := errorResponse{Code: code, Message: "internal error"}

	// Internal failures never leak their cause.
	if appErr, ok := errors.AsAppError(err); ok && code != errors.ErrCodeInternal {
		resp.Message = appErr.Message
		resp.Details = appErr.Details
	}
	writeJSON(w, statusFor(code), resp)
}

func writeStatusError(w http.ResponseWriter, status int, code errors.ErrorCode, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
