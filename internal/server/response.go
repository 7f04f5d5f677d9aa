package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/opencode-ai/agentpool/pkg/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeConfigError      = "CONFIG_ERROR"
	ErrCodeUnavailable      = "CAPABILITY_UNAVAILABLE"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

// writeErrorWithDetails writes an error response with details.
func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeErr maps the error taxonomy onto status codes.
func writeErr(w http.ResponseWriter, err error) {
	var (
		denied     *types.PermissionDeniedError
		validation *types.ValidationError
		cfgErr     *types.ConfigError
		capErr     *types.CapabilityError
	)
	switch {
	case errors.As(err, &denied):
		writeErrorWithDetails(w, http.StatusForbidden, ErrCodePermissionDenied, err.Error(), map[string]any{
			"tool":  denied.Tool,
			"check": denied.Check,
		})
	case errors.As(err, &validation):
		details := map[string]any{}
		if validation.Field != "" {
			details["field"] = validation.Field
		}
		writeErrorWithDetails(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error(), details)
	case errors.As(err, &cfgErr):
		writeErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeConfigError, err.Error(), map[string]any{
			"path": cfgErr.Path,
		})
	case errors.As(err, &capErr):
		writeErrorWithDetails(w, http.StatusNotImplemented, ErrCodeUnavailable, err.Error(), map[string]any{
			"capability": capErr.Name,
		})
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, types.ErrAlreadyExists):
		writeError(w, http.StatusConflict, ErrCodeAlreadyExists, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, ErrCodeCancelled, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return types.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}
