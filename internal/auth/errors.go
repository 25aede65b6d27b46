package auth

import (
	"fmt"
)

// ErrorKind classifies why a bearer token failed validation.
type ErrorKind int

const (
	// KindMalformedToken covers tokens that cannot be decoded at all,
	// or that lack required claims.
	KindMalformedToken ErrorKind = iota
	// KindInvalidSignature covers signature verification failures,
	// disallowed signing algorithms and unknown keys.
	KindInvalidSignature
	// KindExpiredToken covers tokens past their expiry (with leeway).
	KindExpiredToken
	// KindAudienceMismatch covers tokens minted for another resource.
	KindAudienceMismatch
	// KindIssuerMismatch covers tokens minted by another issuer.
	KindIssuerMismatch
)

// String returns the kind as a short lowercase phrase, used in logs and in
// the 401 response body.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedToken:
		return "malformed token"
	case KindInvalidSignature:
		return "invalid signature"
	case KindExpiredToken:
		return "token expired"
	case KindAudienceMismatch:
		return "audience mismatch"
	case KindIssuerMismatch:
		return "issuer mismatch"
	default:
		return "invalid token"
	}
}

// ValidationError reports a failed token validation together with its
// classification. All kinds surface as HTTP 401 at the gate.
type ValidationError struct {
	Kind ErrorKind
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token validation failed: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("token validation failed: %s", e.Kind)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DiscoveryError reports a failure to locate the authorization server's key
// set at startup. It is fatal unless an explicit key-set URI is configured.
type DiscoveryError struct {
	Issuer string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("authorization server discovery failed for %s: %v", e.Issuer, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
