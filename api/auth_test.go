package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestAuth(secret []byte) *Auth {
	return &Auth{
		Audience:   "api://aud",
		Issuer:     "https://issuer/",
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

func baseClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": sub,
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken("  "); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenManyPeriods(t *testing.T) {
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := bearerToken(header); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
	if _, err := bearerToken("Basic a.b.c"); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestPrincipalFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	auth := newTestAuth(secret)

	signed := signTestToken(t, secret, baseClaims("user-123"))
	p, err := auth.PrincipalFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if p.ID != "user-123" || p.Role != RoleApplicant {
		t.Fatalf("unexpected principal: %+v", p)
	}

	claims := baseClaims("emp-1")
	claims[roleClaim] = "Employer"
	p, err = auth.PrincipalFromToken(signTestToken(t, secret, claims))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if !p.IsEmployer() {
		t.Fatalf("expected employer principal, got %+v", p)
	}
}

func TestPrincipalFromTokenRejects(t *testing.T) {
	secret := []byte("test-secret")
	auth := newTestAuth(secret)

	cases := map[string]func() string{
		"wrong secret": func() string {
			return signTestToken(t, []byte("other"), baseClaims("u1"))
		},
		"expired": func() string {
			c := baseClaims("u1")
			c["exp"] = time.Now().Add(-time.Minute).Unix()
			return signTestToken(t, secret, c)
		},
		"wrong audience": func() string {
			c := baseClaims("u1")
			c["aud"] = "api://other"
			return signTestToken(t, secret, c)
		},
		"wrong issuer": func() string {
			c := baseClaims("u1")
			c["iss"] = "https://evil/"
			return signTestToken(t, secret, c)
		},
		"missing sub": func() string {
			c := baseClaims("")
			delete(c, "sub")
			return signTestToken(t, secret, c)
		},
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.PrincipalFromToken(token()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewAuthTestMode(t *testing.T) {
	t.Setenv(envAuth0TestMode, "1")
	t.Setenv(envTestJWTSecret, "s3cret")
	t.Setenv(envJWKSCacheTTL, "1m")

	auth := NewAuth(nil, "", "")
	if !auth.TestMode || string(auth.TestSecret) != "s3cret" {
		t.Fatalf("expected test mode with secret, got %+v", auth)
	}
	if auth.keyCacheTTL != time.Minute {
		t.Fatalf("unexpected cache ttl: %v", auth.keyCacheTTL)
	}

	claims := baseClaims("u9")
	delete(claims, "aud")
	delete(claims, "iss")
	p, err := auth.PrincipalFromToken(signTestToken(t, []byte("s3cret"), claims))
	if err != nil || p.ID != "u9" {
		t.Fatalf("unexpected result: %+v, %v", p, err)
	}
}

func TestKeyForTokenWithoutJWKS(t *testing.T) {
	auth := &Auth{}
	if _, err := auth.keyForToken(&jwt.Token{Header: map[string]any{"kid": "k1"}}); err == nil {
		t.Fatal("expected error without jwks")
	}
}

func TestSignTestTokenRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	auth := &Auth{
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
	token, err := SignTestToken(secret, "emp-7", RoleEmployer, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := auth.PrincipalFromToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.ID != "emp-7" || !p.IsEmployer() {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, err := SignTestToken(nil, "u", "", time.Hour); err == nil {
		t.Fatal("expected error without secret")
	}
}
