package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/zentral/zentral/internal/domain"
)

const (
	testIssuer   = "https://idp.example.com"
	testClientID = "zentral"
)

// signToken builds an RS256 compact JWS.
func signToken(t *testing.T, key *rsa.PrivateKey, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	signingInput := enc(map[string]string{"alg": "RS256", "typ": "JWT"}) + "." + enc(claims)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func newTestVerifier(t *testing.T, domains []string) (*OIDCVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	return NewOIDCVerifierWithKeySet(testIssuer, testClientID, keySet, domains), key
}

func claims(email string) map[string]any {
	return map[string]any{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   "1234",
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

func TestVerify(t *testing.T) {
	v, key := newTestVerifier(t, []string{"Example.com"})

	got, err := v.Verify(context.Background(), signToken(t, key, claims("admin@example.com")))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got.Subject != "1234" || got.Email != "admin@example.com" {
		t.Errorf("Verify() claims = %+v", got)
	}
}

func TestVerifyRejects(t *testing.T) {
	v, key := newTestVerifier(t, []string{"example.com"})
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	expired := claims("admin@example.com")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAudience := claims("admin@example.com")
	wrongAudience["aud"] = "someone-else"

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong key", signToken(t, other, claims("admin@example.com"))},
		{"expired", signToken(t, key, expired)},
		{"wrong audience", signToken(t, key, wrongAudience)},
		{"domain not allowed", signToken(t, key, claims("admin@evil.com"))},
		{"no email", signToken(t, key, claims(""))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(context.Background(), tt.token); err == nil {
				t.Error("Verify() error = nil, want error")
			}
		})
	}
}

func TestValidateClaims(t *testing.T) {
	restricted := &OIDCVerifier{allowedDomains: []string{"example.com", "corp.example.org"}}
	open := &OIDCVerifier{}

	tests := []struct {
		name     string
		verifier *OIDCVerifier
		email    string
		wantErr  bool
	}{
		{"allowed", restricted, "jane@example.com", false},
		{"case insensitive", restricted, "jane@CORP.example.org", false},
		{"subdomain is not allowed", restricted, "jane@mail.example.com", true},
		{"malformed", restricted, "jane", true},
		{"double at", restricted, "jane@x@example.com", true},
		{"any domain", open, "jane@anywhere.test", false},
		{"missing email", open, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.verifier.ValidateClaims(&OIDCClaims{Subject: "1", Email: tt.email})
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateClaims(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrUnauthorized) {
				t.Errorf("ValidateClaims(%q) error = %v, want ErrUnauthorized", tt.email, err)
			}
		})
	}
}
