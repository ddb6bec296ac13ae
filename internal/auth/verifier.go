package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/org/healthgate/pkg/models"
)

// ErrInvalidToken indicates a bearer token failed verification for any
// reason: bad signature, wrong issuer, expired, or the signing key could not
// be fetched. Verification fails closed.
var ErrInvalidToken = errors.New("invalid token")

// jwksCacheTTL is how long fetched signing keys are trusted before refetch.
const jwksCacheTTL = 5 * time.Minute

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Issuer  string
	JWKSURL string
	// SigningKey switches the verifier to HMAC mode for development and
	// testing only. Production deployments use the JWKS endpoint.
	SigningKey []byte
}

// Verifier validates bearer tokens against the identity provider's signing
// keys. The key cache is process-lifetime state owned by the instance;
// construct one Verifier at startup and inject it.
type Verifier struct {
	cfg  VerifierConfig
	jwks *jwksCache
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	v := &Verifier{cfg: cfg}
	if len(cfg.SigningKey) == 0 {
		v.jwks = newJWKSCache(cfg.JWKSURL, jwksCacheTTL)
	}
	return v
}

// Verify checks the token's signature, issuer, and time claims, returning
// the decoded claim set. Every failure mode collapses to ErrInvalidToken.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}

	var (
		keyFunc jwt.Keyfunc
		methods []string
	)
	if len(v.cfg.SigningKey) > 0 {
		methods = []string{"HS256"}
		keyFunc = func(t *jwt.Token) (any, error) {
			return v.cfg.SigningKey, nil
		}
	} else {
		// Restrict to the RSA family so an attacker cannot downgrade to
		// "none" or confuse an RSA public key for an HMAC secret.
		methods = []string{"RS256", "RS384", "RS512"}
		keyFunc = v.jwksKeyFunc
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Principal reconstructs the request principal from a verified claim set.
func (v *Verifier) Principal(claims *Claims) models.Principal {
	return models.Principal{
		Subject: claims.Subject,
		Email:   claims.Email,
		Role:    ResolveRole(claims.Groups, claims.RoleClaim),
		Groups:  claims.Groups,
	}
}

func (v *Verifier) jwksKeyFunc(token *jwt.Token) (any, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}
	return v.jwks.getKey(kid)
}

// --- JWKS cache ---

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksResponse struct {
	Keys []jwksKey `json:"keys"`
}

// jwksCache caches signing keys fetched from the provider's JWKS endpoint,
// refreshing on TTL expiry or on an unknown key ID (key rotation).
type jwksCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	url       string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	return &jwksCache{
		keys:   make(map[string]*rsa.PublicKey),
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *jwksCache) getKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *jwksCache) fetch() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks jwksResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k)
		if err != nil {
			continue // skip malformed keys
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}

func parseRSAPublicKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
