package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"dbmcp/pkg/logging"
)

type principalKey struct{}

// ContextWithPrincipal returns a context carrying the principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by the gate, or nil if
// the request was not authenticated (auth disabled, or a public path).
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Gate is HTTP middleware enforcing bearer authentication on every request
// except the configured public paths. Rejections carry a WWW-Authenticate
// challenge pointing at the protected resource metadata, per RFC 6750.
type Gate struct {
	validator   *Validator
	metadataURL string
	publicPaths map[string]struct{}
}

// NewGate builds a gate around the validator. metadataURL is advertised in
// challenges; publicPaths bypass validation entirely.
func NewGate(validator *Validator, metadataURL string, publicPaths []string) *Gate {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}
	return &Gate{
		validator:   validator,
		metadataURL: metadataURL,
		publicPaths: public,
	}
}

// Wrap returns a handler that authenticates the request before delegating
// to next. On success the principal is attached to the request context.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := g.publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		raw, present := bearerToken(r)
		if !present {
			g.reject(w, r, false, "no bearer token provided")
			return
		}

		principal, err := g.validator.Validate(r.Context(), raw)
		if err != nil {
			logging.Debug("Auth", "Rejected token on %s %s: %v", r.Method, r.URL.Path, err)
			g.reject(w, r, true, rejectionDetail(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// bearerToken extracts the credential from the Authorization header. The
// scheme comparison is case-insensitive per RFC 9110.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func rejectionDetail(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Kind.String()
	}
	return "token validation failed"
}

// reject writes a 401 with the bearer challenge. tokenPresented controls
// the error attribute: it is only included when a credential was actually
// offered and found wanting.
func (g *Gate) reject(w http.ResponseWriter, r *http.Request, tokenPresented bool, detail string) {
	challenge := fmt.Sprintf("Bearer resource_metadata=%q", g.metadataURL)
	if tokenPresented {
		challenge += `, error="invalid_token"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]interface{}{
			"code":    -32000,
			"message": "Unauthorized: " + detail,
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("Auth", "Failed to write unauthorized response: %v", err)
	}
}
