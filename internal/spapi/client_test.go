package spapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

const apiBase = "/inbound/fba/2024-03-20"

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	c := NewClient(Config{
		BaseURL:          server.URL,
		HTTPClient:       server.Client(),
		MaxCreateRetries: DefaultMaxCreateRetries,
		PollInterval:     time.Millisecond,
		PollTimeout:      time.Second,
	}, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}), zap.NewNop(), nil)
	c.now = func() time.Time { return time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC) }
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func operationsHandler(statuses map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		status, ok := statuses[id]
		if !ok {
			status = OperationSuccess
		}
		writeJSON(w, http.StatusOK, map[string]any{"operationId": id, "operationStatus": status})
	}
}

func TestNewTokenSourceUsesRefreshGrant(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "Atza|token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	ts := NewTokenSource(context.Background(), LWAConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "refresh",
		TokenURL:     server.URL,
	}, server.Client())

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "Atza|token", tok.AccessToken)

	_, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestRequestsCarryAccessToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+apiBase+"/operations/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("x-amz-access-token"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		writeJSON(w, http.StatusOK, map[string]any{"operationId": r.PathValue("id"), "operationStatus": "IN_PROGRESS"})
	})
	c := newTestClient(t, mux)

	op, err := c.GetOperation(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", op.OperationStatus)
}

func TestClientWithoutTokenSource(t *testing.T) {
	c := NewClient(Config{}, nil, nil, nil)
	_, err := c.GetOperation(context.Background(), "op-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestErrorBodyPrefersErrorsArray(t *testing.T) {
	assert.Equal(t, `[{"code":"X","message":"m"}]`, errorBody([]byte("{\n  \"errors\": [\n {\"code\": \"X\", \"message\": \"m\"}\n ]\n}")))
	assert.Equal(t, "plain text", errorBody([]byte("plain text")))
	assert.Equal(t, `{"errors":null}`, errorBody([]byte(`{"errors":null}`)))
}

func TestRemoteRequestErrorCarriesStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+apiBase+"/operations/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"errors": []map[string]string{{"code": "Unauthorized", "message": "denied"}}})
	})
	c := newTestClient(t, mux)

	_, err := c.GetOperation(context.Background(), "op-1")
	var reqErr *inbound.RemoteRequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusForbidden, reqErr.StatusCode)
	assert.Contains(t, reqErr.Error(), "API error 403")
	assert.Contains(t, reqErr.Body, "denied")
}

func TestCallsAreTraced(t *testing.T) {
	// the package tracer delegates to the first provider installed globally
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+apiBase+"/operations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "op-bad" {
			writeJSON(w, http.StatusNotFound, map[string]any{"errors": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"operationId": r.PathValue("id"), "operationStatus": OperationSuccess})
	})
	c := newTestClient(t, mux)

	_, err := c.GetOperation(context.Background(), "op-1")
	require.NoError(t, err)
	_, err = c.GetOperation(context.Background(), "op-bad")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "spapi.get operation", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.status_code", http.StatusOK))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.Int("http.status_code", http.StatusNotFound))
}
