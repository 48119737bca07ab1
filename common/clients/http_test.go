package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger interface for tests
type testLogger struct {
	t *testing.T
}

func (l *testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("INFO: %s %v", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("ERROR: %s %v", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("WARN: %s %v", msg, keysAndValues)
}

func (l *testLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("DEBUG: %s %v", msg, keysAndValues)
}

func TestHTTPClient_PropagatesContextHeaders(t *testing.T) {
	var gotUser, gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-ID")
		gotSession = r.Header.Get("X-Session-ID")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client(), &testLogger{t})
	ctx := WithSessionID(WithUserID(context.Background(), "alice"), "s-1")

	require.NoError(t, c.DoJSON(ctx, http.MethodGet, srv.URL, nil, nil))
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "s-1", gotSession)
}

func TestHTTPClient_RemoteErrorKeepsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"session s-1 is cancelled"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.Client(), &testLogger{t})
	err := c.DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]string{"a": "b"}, nil)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusConflict, remote.Status)
	assert.Equal(t, "session s-1 is cancelled", remote.Message)
	assert.Contains(t, err.Error(), "session s-1 is cancelled")
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "a", errorMessage([]byte(`{"message":"a"}`)))
	assert.Equal(t, "b", errorMessage([]byte(`{"error":"b"}`)))
	assert.Equal(t, "c", errorMessage([]byte(`{"error":{"message":"c"}}`)))
	assert.Equal(t, "plain text", errorMessage([]byte("plain text\n")))
	assert.Equal(t, "empty error response", errorMessage(nil))
}
