package jwtsigner

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL matches the lifetime of marketplace session tokens.
const DefaultTTL = 24 * time.Hour

const MinHMACSecret = 32

var ErrWeakSecret = errors.New("jwtsigner: HMAC secret must be at least 32 bytes")

// Signer issues JWTs either with a shared HS256 secret or with an Ed25519
// key published through a JWKS document.
type Signer struct {
	method jwt.SigningMethod
	key    any
	public ed25519.PublicKey
	KeyID  string
	Issuer string
}

func NewHMAC(secret []byte, iss string) (*Signer, error) {
	if len(secret) < MinHMACSecret {
		return nil, ErrWeakSecret
	}
	return &Signer{method: jwt.SigningMethodHS256, key: append([]byte(nil), secret...), Issuer: iss}, nil
}

// NewFromBase64 creates a signer from base64-encoded ed25519 private key bytes.
// If privB64 is empty, it generates an ephemeral key (good for local dev).
func NewFromBase64(privB64, kid, iss string) (*Signer, error) {
	var priv ed25519.PrivateKey
	if privB64 == "" {
		var err error
		if _, priv, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, err
		}
	} else {
		raw, err := base64.StdEncoding.DecodeString(privB64)
		if err != nil {
			return nil, err
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, errors.New("invalid ed25519 private key size")
		}
		priv = ed25519.PrivateKey(raw)
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{method: jwt.SigningMethodEdDSA, key: priv, public: pub, KeyID: kid, Issuer: iss}, nil
}

// Sign issues a JWT for subject `sub` with TTL and extra claims.
func (s *Signer) Sign(sub string, ttl time.Duration, claims map[string]any) (string, error) {
	now := time.Now()
	m := jwt.MapClaims{}
	for k, v := range claims {
		m[k] = v
	}
	if s.Issuer != "" {
		m["iss"] = s.Issuer
	}
	m["sub"] = sub
	m["iat"] = now.Unix()
	m["exp"] = now.Add(ttl).Unix()

	t := jwt.NewWithClaims(s.method, m)
	if s.KeyID != "" {
		t.Header["kid"] = s.KeyID
	}
	return t.SignedString(s.key)
}

// SignUser issues a session token carrying the user id both as subject and
// as the userId claim.
func (s *Signer) SignUser(userID uuid.UUID, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.Sign(userID.String(), ttl, map[string]any{"userId": userID.String()})
}

// PublicJWK renders the public part as JWK for JWKS endpoint. HMAC signers
// have nothing to publish and return nil.
func (s *Signer) PublicJWK() map[string]any {
	if s.public == nil {
		return nil
	}
	return map[string]any{
		"kty": "OKP",
		"crv": "Ed25519",
		"alg": "EdDSA",
		"use": "sig",
		"kid": s.KeyID,
		"x":   base64.RawURLEncoding.EncodeToString(s.public),
	}
}

func (s *Signer) JWKS() map[string]any {
	keys := []map[string]any{}
	if jwk := s.PublicJWK(); jwk != nil {
		keys = append(keys, jwk)
	}
	return map[string]any{"keys": keys}
}
