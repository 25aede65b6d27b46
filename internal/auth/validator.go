package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// allowedAlgorithms is the asymmetric signing methods dbmcp accepts.
// Symmetric methods and "none" are rejected outright: a resource server
// never shares a secret with the authorization server.
var allowedAlgorithms = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

const defaultClockSkew = 60 * time.Second

// Principal is the authenticated identity derived from a validated token.
// It lives for one request-response cycle and is carried in the request
// context.
type Principal struct {
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
}

// HasScope reports whether the principal carries the given scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidatorConfig configures token validation.
type ValidatorConfig struct {
	// Issuer is the authorization server base URL. Used for key-set
	// discovery and, when set, enforced against the iss claim.
	Issuer string
	// JWKSURI, when set, is used directly and discovery is skipped.
	JWKSURI string
	// Audience, when set, is enforced against the aud claim.
	Audience string
	// ClockSkew is the leeway applied to time-based claims.
	ClockSkew time.Duration
}

// Validator checks bearer tokens against the authorization server's key
// set. It is stateless apart from the key cache and safe for concurrent
// use.
type Validator struct {
	keys      *KeySet
	issuer    string
	audience  string
	clockSkew time.Duration
}

// NewValidator resolves the key set (discovery or explicit URI) and returns
// a ready validator. A DiscoveryError here means the server must not start:
// every request would be unvalidatable.
func NewValidator(ctx context.Context, cfg ValidatorConfig) (*Validator, error) {
	keys, err := NewKeySet(ctx, cfg.Issuer, cfg.JWKSURI)
	if err != nil {
		return nil, err
	}
	skew := cfg.ClockSkew
	if skew == 0 {
		skew = defaultClockSkew
	}
	return &Validator{
		keys:      keys,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		clockSkew: skew,
	}, nil
}

// Validate checks rawToken and returns the Principal it asserts. Failures
// are always *ValidationError with one of the five kinds.
func (v *Validator) Validate(ctx context.Context, rawToken string) (*Principal, error) {
	if rawToken == "" {
		return nil, &ValidationError{Kind: KindMalformedToken, Err: errors.New("empty token")}
	}

	// First pass: decode the header without verifying, to pick the key and
	// reject disallowed algorithms before any signature work.
	alg, kid, err := peekHeader(rawToken)
	if err != nil {
		return nil, &ValidationError{Kind: KindMalformedToken, Err: err}
	}
	if !algorithmAllowed(alg) {
		return nil, &ValidationError{Kind: KindInvalidSignature, Err: fmt.Errorf("signing method %q not allowed", alg)}
	}

	keyfunc := func(t *jwt.Token) (interface{}, error) {
		return v.keys.Key(ctx, kid)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(allowedAlgorithms),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(rawToken, keyfunc, opts...)
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &ValidationError{Kind: KindMalformedToken, Err: errors.New("unexpected claims type")}
	}
	return principalFromClaims(claims)
}

func peekHeader(rawToken string) (alg, kid string, err error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return "", "", err
	}
	alg, _ = token.Header["alg"].(string)
	kid, _ = token.Header["kid"].(string)
	return alg, kid, nil
}

func algorithmAllowed(alg string) bool {
	for _, a := range allowedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// classifyParseError maps the jwt library's sentinel errors onto the error
// taxonomy. Anything unrecognized counts as an invalid signature: the token
// could not be proven authentic.
func classifyParseError(err error) *ValidationError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &ValidationError{Kind: KindExpiredToken, Err: err}
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return &ValidationError{Kind: KindAudienceMismatch, Err: err}
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return &ValidationError{Kind: KindIssuerMismatch, Err: err}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &ValidationError{Kind: KindMalformedToken, Err: err}
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return &ValidationError{Kind: KindMalformedToken, Err: err}
	default:
		return &ValidationError{Kind: KindInvalidSignature, Err: err}
	}
}

func principalFromClaims(claims jwt.MapClaims) (*Principal, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, &ValidationError{Kind: KindMalformedToken, Err: errors.New("missing sub claim")}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, &ValidationError{Kind: KindMalformedToken, Err: errors.New("missing exp claim")}
	}
	return &Principal{
		Subject:   sub,
		Scopes:    parseScopes(claims),
		ExpiresAt: exp.Time,
	}, nil
}

// parseScopes reads the scope claim, accepting both the RFC 6749
// space-separated string form and an array-of-strings form.
func parseScopes(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		scopes := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	default:
		return nil
	}
}
