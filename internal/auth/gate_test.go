package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMetadataURL = "https://db.example.com/.well-known/oauth-protected-resource"

// parseChallengeParams extracts the key="value" parameters from a Bearer
// challenge header.
func parseChallengeParams(t *testing.T, header string) map[string]string {
	t.Helper()
	require.True(t, strings.HasPrefix(header, "Bearer "), "expected Bearer challenge, got %q", header)

	params := make(map[string]string)
	re := regexp.MustCompile(`(\w+)="([^"]*)"`)
	for _, match := range re.FindAllStringSubmatch(header, -1) {
		params[match[1]] = match[2]
	}
	return params
}

type rpcErrorBody struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Error   struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeRPCError(t *testing.T, rr *httptest.ResponseRecorder) rpcErrorBody {
	t.Helper()
	var body rpcErrorBody
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

// gateFixture wires a gate in front of a handler that records the principal
// it sees.
type gateFixture struct {
	ts        *testKeyServer
	handler   http.Handler
	nextCalls int
	principal *Principal
}

func newGateFixture(t *testing.T, publicPaths ...string) *gateFixture {
	t.Helper()

	ts := newTestKeyServer(t)
	f := &gateFixture{ts: ts}

	gate := NewGate(newTestValidator(t, ts), testMetadataURL, publicPaths)
	f.handler = gate.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.nextCalls++
		f.principal = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return f
}

func (f *gateFixture) do(method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestGate_ValidToken(t *testing.T) {
	f := newGateFixture(t)

	token := f.ts.mint(f.ts.claims(nil))
	rr := f.do("POST", "/mcp", "Bearer "+token)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, f.nextCalls)
	require.NotNil(t, f.principal)
	assert.Equal(t, "user-1", f.principal.Subject)
	assert.True(t, f.principal.HasScope("db:write"))
}

func TestGate_MissingToken(t *testing.T) {
	f := newGateFixture(t)

	rr := f.do("POST", "/mcp", "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, f.nextCalls)

	params := parseChallengeParams(t, rr.Header().Get("WWW-Authenticate"))
	assert.Equal(t, testMetadataURL, params["resource_metadata"])
	// No credential was offered, so no error attribute.
	assert.NotContains(t, params, "error")

	body := decodeRPCError(t, rr)
	assert.Equal(t, "2.0", body.JSONRPC)
	assert.Nil(t, body.ID)
	assert.Equal(t, -32000, body.Error.Code)
	assert.Contains(t, body.Error.Message, "Unauthorized")
}

func TestGate_InvalidToken(t *testing.T) {
	f := newGateFixture(t)

	rr := f.do("POST", "/mcp", "Bearer not-a-real-token")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, f.nextCalls)

	params := parseChallengeParams(t, rr.Header().Get("WWW-Authenticate"))
	assert.Equal(t, testMetadataURL, params["resource_metadata"])
	assert.Equal(t, "invalid_token", params["error"])

	body := decodeRPCError(t, rr)
	assert.Contains(t, body.Error.Message, "malformed token")
}

func TestGate_ExpiredToken(t *testing.T) {
	f := newGateFixture(t)

	token := f.ts.mint(f.ts.claims(map[string]interface{}{
		"exp": time.Now().Add(-2 * time.Hour).Unix(),
	}))
	rr := f.do("GET", "/mcp", "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	params := parseChallengeParams(t, rr.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "invalid_token", params["error"])

	body := decodeRPCError(t, rr)
	assert.Contains(t, body.Error.Message, "token expired")
}

func TestGate_PublicPathBypassesAuth(t *testing.T) {
	f := newGateFixture(t, "/api/health", WellKnownProtectedResource)

	t.Run("health without token", func(t *testing.T) {
		rr := f.do("GET", "/api/health", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Nil(t, f.principal)
	})

	t.Run("metadata without token", func(t *testing.T) {
		rr := f.do("GET", WellKnownProtectedResource, "")
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("protected path still gated", func(t *testing.T) {
		rr := f.do("POST", "/mcp", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestGate_SchemeHandling(t *testing.T) {
	f := newGateFixture(t)
	token := f.ts.mint(f.ts.claims(nil))

	t.Run("lowercase bearer accepted", func(t *testing.T) {
		rr := f.do("POST", "/mcp", "bearer "+token)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("basic scheme treated as absent", func(t *testing.T) {
		rr := f.do("POST", "/mcp", "Basic dXNlcjpwYXNz")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		params := parseChallengeParams(t, rr.Header().Get("WWW-Authenticate"))
		assert.NotContains(t, params, "error")
	})

	t.Run("bearer with empty credential treated as absent", func(t *testing.T) {
		rr := f.do("POST", "/mcp", "Bearer ")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
