package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer abstracts the cryptographic half of token issuance so the signing
// scheme is pluggable. Implementations carry their own key material.
type Signer interface {
	// Alg returns the JWA algorithm name this signer produces (e.g. "ES256").
	Alg() string
	// KeyID returns the stable key id stamped into token headers and the
	// published JWK.
	KeyID() string
	// Sign produces a compact serialized token over the given claims.
	Sign(claims jwt.MapClaims) (string, error)
	// PublicJWK returns the public half of the signing key as a JWK.
	PublicJWK() (JWK, error)
}

// ES256Signer signs tokens with an ECDSA P-256 key.
type ES256Signer struct {
	key *ecdsa.PrivateKey
	kid string
}

// NewES256Signer generates a fresh P-256 key pair. The key id is the RFC 7638
// JWK thumbprint of the public key, so it is stable for the life of the key
// and changes whenever the key is regenerated.
func NewES256Signer() (*ES256Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("token: generate ECDSA key: %w", err)
	}
	kid, err := jwkThumbprint(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &ES256Signer{key: key, kid: kid}, nil
}

// ParseES256Signer loads a PEM-encoded EC private key. Only P-256 keys are
// accepted.
func ParseES256Signer(pemKey []byte) (*ES256Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, fmt.Errorf("token: failed to decode PEM block")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("token: parse EC private key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("token: unsupported ECDSA curve: got %s, want P-256", key.Curve.Params().Name)
	}
	kid, err := jwkThumbprint(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &ES256Signer{key: key, kid: kid}, nil
}

// Alg returns "ES256".
func (s *ES256Signer) Alg() string { return "ES256" }

// KeyID returns the signer's stable key id.
func (s *ES256Signer) KeyID() string { return s.kid }

// Sign serializes and signs the claims, stamping the key id into the header.
func (s *ES256Signer) Sign(claims jwt.MapClaims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = s.kid
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// PublicJWK returns the public key as an EC P-256 JWK tagged for signature
// verification.
func (s *ES256Signer) PublicJWK() (JWK, error) {
	return ecPublicKeyToJWK(&s.key.PublicKey, s.kid)
}

// ecPublicKeyToJWK converts an ECDSA P-256 public key to a JWK (RFC 7517).
// It goes through the ecdh package to extract the uncompressed point bytes,
// avoiding the deprecated ecdsa.PublicKey.X / .Y big.Int fields.
func ecPublicKeyToJWK(pub *ecdsa.PublicKey, kid string) (JWK, error) {
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("token: convert to ECDH key: %w", err)
	}
	// Uncompressed point format for P-256: 0x04 || x (32 bytes) || y (32 bytes).
	b := ecdhPub.Bytes()
	if len(b) != 65 || b[0] != 0x04 {
		return nil, fmt.Errorf("token: unexpected uncompressed point length %d or prefix 0x%02x", len(b), b[0])
	}
	return JWK{
		"kty": "EC",
		"crv": "P-256",
		"alg": "ES256",
		"use": "sig",
		"kid": kid,
		"x":   base64.RawURLEncoding.EncodeToString(b[1:33]),
		"y":   base64.RawURLEncoding.EncodeToString(b[33:65]),
	}, nil
}

// jwkThumbprint computes the RFC 7638 JWK thumbprint of an EC P-256 public
// key, used as a deterministic key id.
func jwkThumbprint(pub *ecdsa.PublicKey) (string, error) {
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return "", fmt.Errorf("token: thumbprint: %w", err)
	}
	b := ecdhPub.Bytes()
	if len(b) != 65 || b[0] != 0x04 {
		return "", fmt.Errorf("token: thumbprint: malformed public key")
	}
	x := base64.RawURLEncoding.EncodeToString(b[1:33])
	y := base64.RawURLEncoding.EncodeToString(b[33:65])
	// RFC 7638: lexicographic JSON of the required members.
	raw := fmt.Sprintf(`{"crv":"P-256","kty":"EC","x":"%s","y":"%s"}`, x, y)
	h := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(h[:]), nil
}
