// Package auth verifies OIDC bearer tokens presented to the API.
package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/zentral/zentral/internal/domain"
)

// OIDCVerifier verifies ID tokens issued for the API client.
type OIDCVerifier struct {
	verifier       *oidc.IDTokenVerifier
	allowedDomains []string
}

// OIDCClaims are the ID token claims the API relies on.
type OIDCClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// NewOIDCVerifier creates a verifier for the issuer using discovery.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string, allowedDomains []string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier:       provider.Verifier(&oidc.Config{ClientID: clientID}),
		allowedDomains: allowedDomains,
	}, nil
}

// NewOIDCVerifierWithKeySet creates a verifier that checks signatures
// against keySet instead of the provider's published keys.
func NewOIDCVerifierWithKeySet(issuerURL, clientID string, keySet oidc.KeySet, allowedDomains []string) *OIDCVerifier {
	return &OIDCVerifier{
		verifier:       oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID}),
		allowedDomains: allowedDomains,
	}
}

// Verify verifies a raw ID token and returns its claims. The error wraps
// domain.ErrUnauthorized when the token is valid but its caller is not allowed.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*OIDCClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying ID token: %w", err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decoding ID token claims: %w", err)
	}
	if err := v.ValidateClaims(&claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// ValidateClaims requires an email and, when domains are configured, an
// email in one of them.
func (v *OIDCVerifier) ValidateClaims(claims *OIDCClaims) error {
	if claims.Email == "" {
		return fmt.Errorf("%w: missing email claim", domain.ErrUnauthorized)
	}
	if len(v.allowedDomains) == 0 {
		return nil
	}
	_, emailDomain, ok := strings.Cut(claims.Email, "@")
	if !ok || emailDomain == "" || strings.Contains(emailDomain, "@") {
		return fmt.Errorf("%w: malformed email %q", domain.ErrUnauthorized, claims.Email)
	}
	allowed := slices.ContainsFunc(v.allowedDomains, func(d string) bool {
		return strings.EqualFold(d, emailDomain)
	})
	if !allowed {
		return fmt.Errorf("%w: email domain %s", domain.ErrUnauthorized, emailDomain)
	}
	return nil
}
