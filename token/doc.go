// Package token issues and validates the signed, scoped, time-limited
// credentials that authenticate an embedded UI to its embedding host.
//
// The Service signs JWT-shaped tokens under a single active key id and
// publishes the corresponding public key as a JWKS document. The Validator
// performs the full verification procedure the client engine runs on every
// credential it receives: structural decode, expiry check, key-set fetch,
// key selection by kid, and signature verification.
//
// Signing is abstracted behind the Signer interface so tests can substitute
// deterministic keys. The stock implementation uses ECDSA P-256 (ES256).
package token
