// Package auth implements resource-side OAuth 2.0 bearer token protection
// for the HTTP transport.
//
// The package plays the protected resource role only: it validates tokens
// issued elsewhere and never mints, stores, or refreshes credentials. The
// pieces are:
//
//   - KeySet: fetches and caches the authorization server's JSON Web Key
//     Set, discovering its location from the issuer's well-known metadata
//     when no explicit URI is configured.
//   - Validator: verifies token signature, algorithm, expiry, issuer, and
//     audience, producing a Principal or a classified ValidationError.
//   - Gate: HTTP middleware that extracts the bearer credential, runs the
//     validator, and rejects with a 401 plus RFC 6750 WWW-Authenticate
//     challenge. Public paths bypass the gate.
//   - MetadataHandler: serves the RFC 9728 protected resource metadata
//     document that challenges point clients to.
//
// Validation failures are classified into five kinds (malformed, invalid
// signature, expired, audience mismatch, issuer mismatch), all of which
// map to the same 401 response so callers cannot probe token state.
package auth
