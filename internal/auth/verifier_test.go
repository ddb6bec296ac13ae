package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/org/healthgate/pkg/models"
)

const testIssuer = "healthgate-idp"

var hmacKey = []byte("test-signing-key")

func mintHS256(t *testing.T, mutate func(*Claims)) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:  "doc@example.org",
		Groups: []string{"Doctors"},
	}
	if mutate != nil {
		mutate(claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(hmacKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestVerifyHMACValid(t *testing.T) {
	v := NewVerifier(VerifierConfig{Issuer: testIssuer, SigningKey: hmacKey})
	claims, err := v.Verify(mintHS256(t, nil))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("subject = %q", claims.Subject)
	}
	p := v.Principal(claims)
	if p.Role != models.RoleDoctor {
		t.Errorf("role = %v, want RoleDoctor", p.Role)
	}
	if p.Email != "doc@example.org" {
		t.Errorf("email = %q", p.Email)
	}
}

func TestVerifyFailuresCollapse(t *testing.T) {
	v := NewVerifier(VerifierConfig{Issuer: testIssuer, SigningKey: hmacKey})

	expired := mintHS256(t, func(c *Claims) {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	})
	wrongIssuer := mintHS256(t, func(c *Claims) {
		c.Issuer = "someone-else"
	})
	noExpiry := mintHS256(t, func(c *Claims) {
		c.ExpiresAt = nil
	})
	wrongKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("other-key"))

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"no expiry":    noExpiry,
		"wrong key":    wrongKey,
		"garbage":      "not.a.token",
		"empty":        "",
	} {
		if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestVerifyRSAViaJWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	jwks := jwksResponse{Keys: []jwksKey{{
		Kty: "RSA",
		Kid: "kid-1",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(priv.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.E)).Bytes()),
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jwks) //nolint:errcheck
	}))
	defer srv.Close()

	v := NewVerifier(VerifierConfig{Issuer: testIssuer, JWKSURL: srv.URL})

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   "user-9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	claims, err := v.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "user-9" {
		t.Errorf("subject = %q", claims.Subject)
	}

	// Unknown kid triggers a refetch and then fails closed.
	token.Header["kid"] = "kid-2"
	signed, _ = token.SignedString(priv)
	if _, err := v.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown kid: err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsHMACInRSAMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jwksResponse{}) //nolint:errcheck
	}))
	defer srv.Close()

	v := NewVerifier(VerifierConfig{Issuer: testIssuer, JWKSURL: srv.URL})
	if _, err := v.Verify(mintHS256(t, nil)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
