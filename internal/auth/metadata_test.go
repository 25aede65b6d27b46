package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataHandler_ServesDocument(t *testing.T) {
	h := NewMetadataHandler(
		"https://db.example.com/mcp",
		"https://auth.example.com",
		[]string{"db:read", "db:write"},
	)

	req := httptest.NewRequest("GET", WellKnownProtectedResource, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	var doc ProtectedResourceMetadata
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&doc))
	assert.Equal(t, "https://db.example.com/mcp", doc.Resource)
	assert.Equal(t, []string{"https://auth.example.com"}, doc.AuthorizationServers)
	assert.Equal(t, []string{"db:read", "db:write"}, doc.ScopesSupported)
	assert.Equal(t, []string{"header"}, doc.BearerMethodsSupported)
}

func TestMetadataHandler_OmitsEmptyScopes(t *testing.T) {
	h := NewMetadataHandler("https://db.example.com/mcp", "https://auth.example.com", nil)

	req := httptest.NewRequest("GET", WellKnownProtectedResource, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.NotContains(t, rr.Body.String(), "scopes_supported")
}

func TestMetadataHandler_MethodNotAllowed(t *testing.T) {
	h := NewMetadataHandler("https://db.example.com/mcp", "https://auth.example.com", nil)

	for _, method := range []string{"POST", "PUT", "DELETE"} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, WellKnownProtectedResource, nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
			assert.Equal(t, "GET", rr.Header().Get("Allow"))
		})
	}
}

func TestMetadataURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://db.example.com", "https://db.example.com/.well-known/oauth-protected-resource"},
		{"https://db.example.com/", "https://db.example.com/.well-known/oauth-protected-resource"},
		{"http://localhost:8080", "http://localhost:8080/.well-known/oauth-protected-resource"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MetadataURL(tt.base))
	}
}
