package token

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWK is a single JSON Web Key as a loosely typed map, matching the open
// shape of RFC 7517 documents.
type JWK map[string]any

// KeyID returns the kid member, empty when absent.
func (k JWK) KeyID() string {
	kid, _ := k["kid"].(string)
	return kid
}

// KeySet is a published collection of public verification keys.
type KeySet struct {
	Keys []JWK `json:"keys"`
}

// ByKeyID returns the key whose kid matches.
func (ks KeySet) ByKeyID(kid string) (JWK, bool) {
	for _, k := range ks.Keys {
		if k.KeyID() == kid {
			return k, true
		}
	}
	return nil, false
}

// nonceBytes is the minimum entropy carried by each issued token's nonce.
const nonceBytes = 16

// Service issues signed, scoped, time-limited credentials. Key material is
// created lazily on first use and cached for the life of the Service;
// constructing a new Service (or signer) invalidates every previously issued,
// not-yet-expired token, since only one key id is active at a time.
type Service struct {
	issuer string

	mu        sync.Mutex
	signer    Signer
	signerErr error
}

// NewService creates a Service that lazily generates an ES256 signing key on
// first use.
func NewService(issuer string) *Service {
	if issuer == "" {
		issuer = "uibridge"
	}
	return &Service{issuer: issuer}
}

// NewServiceWithSigner creates a Service around an explicit signer, bypassing
// lazy key generation. Tests use this with deterministic keys.
func NewServiceWithSigner(issuer string, signer Signer) *Service {
	s := NewService(issuer)
	s.signer = signer
	return s
}

func (s *Service) getSigner() (Signer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signer == nil && s.signerErr == nil {
		s.signer, s.signerErr = NewES256Signer()
	}
	return s.signer, s.signerErr
}

// Issue builds and signs a token for the given subject and audience. The
// scope claim carries the requested scopes as an array; exp is now + expiry
// and must land in the future; the nonce is fresh random hex per token.
func (s *Service) Issue(subject, audience string, scopes []string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		return "", fmt.Errorf("token: expiry must be positive, got %s", expiry)
	}
	signer, err := s.getSigner()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token: generate nonce: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   s.issuer,
		"sub":   subject,
		"aud":   audience,
		"iat":   now.Unix(),
		"exp":   now.Add(expiry).Unix(),
		"scope": scopes,
		"nonce": hex.EncodeToString(nonce),
	}
	return signer.Sign(claims)
}

// Issuer returns the iss claim value stamped into issued tokens.
func (s *Service) Issuer() string { return s.issuer }

// KeySet returns the service's public verification material as a JWKS
// document with a single active key.
func (s *Service) KeySet() (KeySet, error) {
	signer, err := s.getSigner()
	if err != nil {
		return KeySet{}, err
	}
	jwk, err := signer.PublicJWK()
	if err != nil {
		return KeySet{}, err
	}
	return KeySet{Keys: []JWK{jwk}}, nil
}

// Handler returns an HTTP handler serving the key set as JSON, suitable for
// mounting at the URL distributed in Auth.KeySetURL.
func (s *Service) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ks, err := s.KeySet()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "key set unavailable"})
			return
		}
		_ = json.NewEncoder(w).Encode(ks)
	}
}
