package token

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HTTPClient is the interface used to fetch key sets (allows testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxKeySetBytes bounds the size of a fetched key-set document.
const maxKeySetBytes = 1 << 20

// Validator verifies credentials end to end: structural decode, expiry
// check, key-set retrieval, key selection by kid, and signature verification.
// Every failure mode — including a panic inside a crypto or parsing path —
// surfaces as an error, never a crash.
type Validator struct {
	client HTTPClient
	now    func() time.Time
}

// NewValidator creates a Validator. A nil client falls back to a
// http.Client with a 10 second timeout.
func NewValidator(client HTTPClient) *Validator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Validator{client: client, now: time.Now}
}

// Validate runs the full verification procedure against the token and the
// key set published at keySetURL. On success it returns the scope claim as a
// string slice; any failure returns a nil slice and an error describing the
// failing step.
func (v *Validator) Validate(ctx context.Context, tokenStr, keySetURL string) (scopes []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			scopes, err = nil, fmt.Errorf("token: validation panic: %v", r)
		}
	}()

	// Step 1: structural decode, no verification yet. The kid is needed to
	// select a verification key before any cryptography runs.
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	unverified, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("token: malformed credential: %w", err)
	}
	claims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("token: malformed credential claims")
	}

	// Step 2: expiry at or before current time fails before any fetch.
	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, fmt.Errorf("token: credential has no exp claim")
	}
	if !v.now().Before(time.Unix(int64(exp), 0)) {
		return nil, fmt.Errorf("token: credential expired")
	}

	// Steps 3-4: fetch the key set and locate the key matching the header kid.
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token: credential header has no kid")
	}
	keySet, err := v.fetchKeySet(ctx, keySetURL)
	if err != nil {
		return nil, err
	}
	jwk, ok := keySet.ByKeyID(kid)
	if !ok {
		return nil, fmt.Errorf("token: no key %q in key set", kid)
	}
	pub, err := jwkToECPublicKey(jwk)
	if err != nil {
		return nil, err
	}

	// Step 5: cryptographic verification with the selected key only.
	verified, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pub, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token: signature verification failed: %w", err)
	}
	verifiedClaims, ok := verified.Claims.(jwt.MapClaims)
	if !ok || !verified.Valid {
		return nil, fmt.Errorf("token: invalid credential claims")
	}

	// Step 6: hand the scope claim back for the caller to adopt.
	return scopesFromClaims(verifiedClaims), nil
}

// fetchKeySet retrieves and parses the JWKS document at keySetURL. A
// non-success status or network error fails validation.
func (v *Validator) fetchKeySet(ctx context.Context, keySetURL string) (KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keySetURL, nil)
	if err != nil {
		return KeySet{}, fmt.Errorf("token: create key set request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return KeySet{}, fmt.Errorf("token: key set fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return KeySet{}, fmt.Errorf("token: key set endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return KeySet{}, fmt.Errorf("token: read key set response: %w", err)
	}
	var ks KeySet
	if err := json.Unmarshal(body, &ks); err != nil {
		return KeySet{}, fmt.Errorf("token: parse key set document: %w", err)
	}
	return ks, nil
}

// DecodeScopes extracts the scope claim from a credential without verifying
// its signature. The host engine uses it to pre-seed a session's granted
// scopes from a credential it issued itself; it must never substitute for
// Validate on the receiving side.
func DecodeScopes(tokenStr string) ([]string, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	unverified, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("token: malformed credential: %w", err)
	}
	claims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("token: malformed credential claims")
	}
	return scopesFromClaims(claims), nil
}

// scopesFromClaims reads the scope claim in either of its common encodings:
// a JSON array of strings or a single space-joined string.
func scopesFromClaims(claims jwt.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Fields(v)
	}
	return nil
}

// jwkToECPublicKey converts an EC P-256 JWK back to an *ecdsa.PublicKey.
func jwkToECPublicKey(jwk JWK) (*ecdsa.PublicKey, error) {
	kty, _ := jwk["kty"].(string)
	if kty != "EC" {
		return nil, fmt.Errorf("token: expected kty=EC, got %q", kty)
	}
	crv, _ := jwk["crv"].(string)
	if crv != "P-256" {
		return nil, fmt.Errorf("token: expected crv=P-256, got %q", crv)
	}
	xStr, _ := jwk["x"].(string)
	yStr, _ := jwk["y"].(string)
	if xStr == "" || yStr == "" {
		return nil, fmt.Errorf("token: missing x or y coordinate in JWK")
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(xStr)
	if err != nil {
		return nil, fmt.Errorf("token: decode x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yStr)
	if err != nil {
		return nil, fmt.Errorf("token: decode y: %w", err)
	}
	if len(xBytes) != 32 || len(yBytes) != 32 {
		return nil, fmt.Errorf("token: invalid P-256 coordinate length: x=%d y=%d", len(xBytes), len(yBytes))
	}

	// Construct the uncompressed point, parse it via ecdh, then convert to
	// ecdsa through a PKIX round trip.
	uncompressed := make([]byte, 65)
	uncompressed[0] = 0x04
	copy(uncompressed[1:33], xBytes)
	copy(uncompressed[33:65], yBytes)

	ecdhPub, err := ecdh.P256().NewPublicKey(uncompressed)
	if err != nil {
		return nil, fmt.Errorf("token: parse uncompressed point: %w", err)
	}
	pkixBytes, err := x509.MarshalPKIXPublicKey(ecdhPub)
	if err != nil {
		return nil, fmt.Errorf("token: marshal PKIX: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(pkixBytes)
	if err != nil {
		return nil, fmt.Errorf("token: parse PKIX: %w", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("token: unexpected key type %T", pub)
	}
	return ecdsaPub, nil
}
