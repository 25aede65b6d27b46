package transport

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatelessFixture(t *testing.T, handler Handler) (*statelessRouter, *httptest.Server) {
	t.Helper()
	router, err := newStatelessRouter(handler)
	require.NoError(t, err)
	ts := httptest.NewServer(recoverable(router.route))
	t.Cleanup(ts.Close)
	t.Cleanup(router.shutdown)
	return router, ts
}

func statelessDo(t *testing.T, ts *httptest.Server, method, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestStatelessRouter_ServesWithoutSessions(t *testing.T) {
	handler := newFakeHandler()
	router, ts := newStatelessFixture(t, handler)

	// Successive POSTs share the one engine; nothing is registered and no
	// identifier is ever issued.
	for _, body := range []string{initializeBody, toolsListBody} {
		resp := statelessDo(t, ts, http.MethodPost, body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get(HeaderSessionID))
		resp.Body.Close()
	}

	assert.Equal(t, []string{"initialize", "tools/list"}, handler.calls())
	assert.Equal(t, 0, handler.sessionCount())
	assert.Equal(t, 0, router.sessionCount())
}

func TestStatelessRouter_IgnoresSessionHeader(t *testing.T) {
	handler := newFakeHandler()
	_, ts := newStatelessFixture(t, handler)

	req, err := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader(toolsListBody))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSessionID, "left-over-from-a-stateful-peer")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatelessRouter_NotificationAccepted(t *testing.T) {
	handler := newFakeHandler()
	_, ts := newStatelessFixture(t, handler)

	resp := statelessDo(t, ts, http.MethodPost, notificationBody)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"notifications/initialized"}, handler.calls())
}

func TestStatelessRouter_GetRejected(t *testing.T) {
	handler := newFakeHandler()
	_, ts := newStatelessFixture(t, handler)

	resp := statelessDo(t, ts, http.MethodGet, "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST, DELETE", resp.Header.Get("Allow"))
	code, message := readErrorEnvelope(t, resp)
	assert.Equal(t, codeBadRequest, code)
	assert.Contains(t, message, "stateless mode")
}

func TestStatelessRouter_DeleteIsANoOp(t *testing.T) {
	handler := newFakeHandler()
	router, ts := newStatelessFixture(t, handler)

	resp := statelessDo(t, ts, http.MethodDelete, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The shared engine survives termination requests.
	resp = statelessDo(t, ts, http.MethodPost, toolsListBody)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, router.sessionCount())
}

func TestStatelessRouter_UnsupportedVerb(t *testing.T) {
	handler := newFakeHandler()
	_, ts := newStatelessFixture(t, handler)

	resp := statelessDo(t, ts, http.MethodPut, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "POST, DELETE", resp.Header.Get("Allow"))
}

func TestStatelessRouter_MalformedBody(t *testing.T) {
	handler := newFakeHandler()
	_, ts := newStatelessFixture(t, handler)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"truncated JSON", `{"jsonrpc":`, codeParseError},
		{"empty body", "", codeParseError},
		{"empty batch", `[]`, codeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := statelessDo(t, ts, http.MethodPost, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			code, _ := readErrorEnvelope(t, resp)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestStatelessRouter_PanicRecovery(t *testing.T) {
	handler := newFakeHandler()
	handler.respond = func(method string, id any) mcp.JSONRPCMessage {
		panic("handler exploded")
	}
	_, ts := newStatelessFixture(t, handler)

	resp := statelessDo(t, ts, http.MethodPost, toolsListBody)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	code, message := decodeErrorEnvelope(t, buf.Bytes())
	assert.Equal(t, codeInternalError, code)
	assert.Equal(t, "internal error", message)

	// The shared engine keeps serving after a recovered panic.
	handler.mu.Lock()
	handler.respond = nil
	handler.mu.Unlock()
	resp2 := statelessDo(t, ts, http.MethodPost, toolsListBody)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestStatelessRouter_ShutdownClosesEngine(t *testing.T) {
	handler := newFakeHandler()
	router, err := newStatelessRouter(handler)
	require.NoError(t, err)

	router.shutdown()

	assertClosed(t, router.engine)

	// Shutting down twice is harmless.
	router.shutdown()
}
