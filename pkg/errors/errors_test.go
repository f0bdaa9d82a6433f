package netyora_errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInvalidArgument, http.StatusBadRequest},
		{Structural("fileName"), http.StatusBadRequest},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrSelfChatForbidden, http.StatusForbidden},
		{ErrAlreadyDownloaded, http.StatusForbidden},
		{ErrPeerNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrAttachmentExpired, http.StatusGone},
		{ErrRateLimited, http.StatusTooManyRequests},
		{Upstream("blob store", errors.New("timeout")), http.StatusBadGateway},
		{ErrDataCorruption, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(fmt.Errorf("wrapped: %w", tc.err)), tc.err.Error())
	}
}

func TestCodePrefersRefinement(t *testing.T) {
	assert.Equal(t, "SELF_CHAT_FORBIDDEN", Code(ErrSelfChatForbidden))
	assert.Equal(t, "PEER_NOT_FOUND", Code(ErrPeerNotFound))
	assert.Equal(t, "INVALID_MEMBERSHIP", Code(ErrInvalidMembership))
	assert.Equal(t, "FORBIDDEN", Code(ErrNotParticipant))
	assert.Equal(t, "STRUCTURAL_ERROR", Code(Structural("mimeType")))
	assert.Equal(t, "INTERNAL_ERROR", Code(errors.New("boom")))
}

func TestUpstreamKeepsCause(t *testing.T) {
	err := Upstream("video tokens", fmt.Errorf("issue: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "UPSTREAM_ERROR", Code(err))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))
}
