package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRequest(t *testing.T) {
	logHook := logtest.NewGlobal()
	defer logHook.Reset()
	prevLevel := log.GetLevel()
	log.SetLevel(log.TraceLevel)
	defer log.SetLevel(prevLevel)

	var seenID string
	handler := LogRequest()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/home/ann", nil)
	req.RemoteAddr = "127.0.0.1:40312"
	req.Header.Set("X-Real-Ip", "10.0.0.9")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	_, err := uuid.Parse(seenID)
	require.NoError(t, err)
	assert.Equal(t, seenID, rr.Header().Get(RequestIDHeader))

	entry := logHook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, seenID, entry.Data["request_id"])
	assert.Equal(t, "/home/ann", entry.Data["path"])
	assert.Equal(t, "10.0.0.9", entry.Data["ip"])
}

func TestLogRequest_KeepsIncomingID(t *testing.T) {
	var seenID string
	handler := LogRequest()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "abc-123", seenID)
	assert.Equal(t, "abc-123", rr.Header().Get(RequestIDHeader))
}
