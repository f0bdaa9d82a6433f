package httpdto

import (
	"net/http"

	netyora_errors "netyora-chat/pkg/errors"
)

// Response is the envelope of every JSON reply. Failed replies carry the
// machine-readable code of the error kind and the request id to quote when
// reporting the failure.
type Response[T any] struct {
	Success   bool   `json:"success"`
	Data      T      `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

// NewErrorResponseFor maps err to its status and envelope. Internal failures
// hide their detail; upstream failures name the collaborator that failed.
func NewErrorResponseFor(err error, requestID string) (int, Response[any]) {
	status := netyora_errors.HTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		message = "internal error"
	}
	resp := NewErrorResponse(message, netyora_errors.Code(err))
	resp.RequestID = requestID
	return status, resp
}
