package domain

import (
	"strings"
	"time"
)

const (
	bootstrapKeyID = "bootstrap"
	oidcKeyPrefix  = "oidc:"
)

// APIKey is the credential an API caller authenticated with. Issued keys are
// stored hashed; bootstrap and OIDC callers get a transient APIKey that is
// never persisted.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// BootstrapAPIKey is the caller authenticated with the bootstrap key.
func BootstrapAPIKey() *APIKey {
	return &APIKey{ID: bootstrapKeyID, Name: "Bootstrap Key"}
}

// OIDCAPIKey is a caller authenticated with an ID token.
func OIDCAPIKey(subject, email string) *APIKey {
	return &APIKey{ID: oidcKeyPrefix + subject, Name: email}
}

// Persisted reports whether k is an issued key.
func (k *APIKey) Persisted() bool {
	return k.ID != bootstrapKeyID && !strings.HasPrefix(k.ID, oidcKeyPrefix)
}

// CreateAPIKeyRequest is the body of an API key creation.
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKeyResponse carries the plain key, which is never returned again.
type CreateAPIKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	KeyPrefix string    `json:"key_prefix"`
	CreatedAt time.Time `json:"created_at"`
}
