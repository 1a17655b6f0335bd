// Package apierror maps internal errors onto the canonical JSON error
// envelope every HTTP surface returns.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/voicelane/voicelane/pkg/catalog"
	"github.com/voicelane/voicelane/pkg/core/pipeline"
)

type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrPipeline       ErrorType = "pipeline_error"
	ErrAPI            ErrorType = "api_error"
)

type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Param     string    `json:"param,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError maps any error to the canonical envelope and an HTTP status.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, statusFromType(out.Type)
	}

	// A pipeline stage ended the turn. The turn itself is still reported
	// through turn_status; this path covers the one-shot endpoint.
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) && stageErr != nil {
		status := http.StatusBadGateway
		if errors.Is(stageErr.Cause, pipeline.ErrTranscriptionTimeout) ||
			errors.Is(stageErr.Cause, pipeline.ErrGenerationTimeout) {
			status = http.StatusGatewayTimeout
		}
		return &Error{
			Type:      ErrPipeline,
			Message:   stageErr.Error(),
			Code:      string(stageErr.Status()),
			Stage:     string(stageErr.Stage),
			RequestID: requestID,
		}, status
	}

	if errors.Is(err, catalog.ErrNotFound) {
		return &Error{
			Type:      ErrNotFound,
			Message:   "not found",
			RequestID: requestID,
		}, http.StatusNotFound
	}

	if errors.Is(err, pipeline.ErrBufferOverrun) {
		return &Error{
			Type:      ErrInvalidRequest,
			Message:   "audio buffer overrun",
			Code:      "buffer_overrun",
			RequestID: requestID,
		}, http.StatusTooManyRequests
	}

	// Unknown errors: do not leak details.
	return &Error{
		Type:      ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrPermission:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrPipeline:
		return http.StatusBadGateway
	case ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes the envelope with the given status.
func WriteJSON(w http.ResponseWriter, status int, e *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: e})
}
