package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSinkPostsBulk(t *testing.T) {
	var got BulkRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/notifications/bulk", r.URL.Path)
		apiKey = r.Header.Get("X-Internal-API-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/", "secret", time.Second, nil)
	err := sink.SendBulk(context.Background(), []Notification{{Type: TypeFileShared, TargetUserID: "u2"}})
	require.NoError(t, err)

	assert.Equal(t, "secret", apiKey)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, "u2", got.Notifications[0].TargetUserID)
	assert.NotEmpty(t, got.Notifications[0].OccurredAt)
}

func TestHTTPSinkReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "k", time.Second, nil)
	err := sink.SendBulk(context.Background(), []Notification{{Type: TypeVideoCall, TargetUserID: "u1"}})
	assert.Error(t, err)
}

func TestHTTPSinkSkipsEmpty(t *testing.T) {
	sink := NewHTTPSink("http://127.0.0.1:1", "k", time.Second, nil)
	assert.NoError(t, sink.SendBulk(context.Background(), nil))
}
