package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"dbmcp/pkg/logging"
)

// WellKnownProtectedResource is the discovery path for protected resource
// metadata, per RFC 9728.
const WellKnownProtectedResource = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the RFC 9728 document this server publishes
// so clients can locate the authorization server and see which scopes the
// resource understands.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

// MetadataURL returns the absolute protected resource metadata URL for the
// given server base URL.
func MetadataURL(base string) string {
	return strings.TrimRight(base, "/") + WellKnownProtectedResource
}

// MetadataHandler serves the protected resource metadata document. The
// document is immutable for the process lifetime, so it is marshaled once.
type MetadataHandler struct {
	body []byte
}

// NewMetadataHandler builds the handler for a resource identified by
// resourceURL, pointing clients at issuer for authorization. With no issuer
// (explicit key-set deployments) the authorization server list is empty.
func NewMetadataHandler(resourceURL, issuer string, scopesSupported []string) *MetadataHandler {
	servers := []string{}
	if issuer != "" {
		servers = []string{issuer}
	}
	doc := ProtectedResourceMetadata{
		Resource:               resourceURL,
		AuthorizationServers:   servers,
		ScopesSupported:        scopesSupported,
		BearerMethodsSupported: []string{"header"},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		// Marshaling a struct of strings cannot fail; keep the handler
		// total anyway.
		logging.Error("Auth", err, "Failed to marshal protected resource metadata")
		body = []byte("{}")
	}
	return &MetadataHandler{body: body}
}

func (h *MetadataHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	// Discovery documents are fetched by browser-based clients from other
	// origins.
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if _, err := w.Write(h.body); err != nil {
		logging.Debug("Auth", "Failed to write metadata response: %v", err)
	}
}
