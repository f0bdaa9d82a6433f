package netyora_errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by the chat core wraps exactly one of these.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrStructural      = errors.New("structural error")
	ErrGone            = errors.New("gone")
	ErrConflict        = errors.New("conflict")
	ErrUpstream        = errors.New("upstream failure")
	ErrDataCorruption  = errors.New("data corruption")
	ErrRateLimited     = errors.New("rate limited")
)

// Refinements of the kinds above.
var (
	ErrSelfChatForbidden  = fmt.Errorf("%w: cannot open a personal chat with yourself", ErrForbidden)
	ErrPeerNotFound       = fmt.Errorf("%w: peer does not exist", ErrNotFound)
	ErrInvalidMembership  = fmt.Errorf("%w: a chat needs at least two participants", ErrInvalidArgument)
	ErrNotParticipant     = fmt.Errorf("%w: not a participant of this chat", ErrForbidden)
	ErrNotSender          = fmt.Errorf("%w: only the sender may change this message", ErrForbidden)
	ErrAlreadyDownloaded  = fmt.Errorf("%w: attachment already downloaded", ErrForbidden)
	ErrAttachmentExpired  = fmt.Errorf("%w: attachment deleted or expired", ErrGone)
	ErrEmptyContent       = fmt.Errorf("%w: content must not be empty", ErrInvalidArgument)
	ErrInvitationInactive = fmt.Errorf("%w: invitation is no longer active", ErrConflict)
)

// Structural builds a structural error naming the offending field.
func Structural(field string) error {
	return fmt.Errorf("%w: %s is required", ErrStructural, field)
}

// Upstream wraps a collaborator failure.
func Upstream(service string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstream, service, err)
}

// HTTPStatus maps an error to the status code returned by the command surface.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrStructural):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrGone):
		return http.StatusGone
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable code for an error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrSelfChatForbidden):
		return "SELF_CHAT_FORBIDDEN"
	case errors.Is(err, ErrPeerNotFound):
		return "PEER_NOT_FOUND"
	case errors.Is(err, ErrInvalidMembership):
		return "INVALID_MEMBERSHIP"
	case errors.Is(err, ErrAlreadyDownloaded):
		return "ALREADY_DOWNLOADED"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrStructural):
		return "STRUCTURAL_ERROR"
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrGone):
		return "GONE"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrUpstream):
		return "UPSTREAM_ERROR"
	case errors.Is(err, ErrDataCorruption):
		return "DATA_CORRUPTION"
	default:
		return "INTERNAL_ERROR"
	}
}
