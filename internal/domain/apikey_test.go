package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIKeyPersisted(t *testing.T) {
	assert.False(t, BootstrapAPIKey().Persisted())

	oidc := OIDCAPIKey("248289761001", "jane@example.com")
	assert.Equal(t, "oidc:248289761001", oidc.ID)
	assert.Equal(t, "jane@example.com", oidc.Name)
	assert.False(t, oidc.Persisted())

	assert.True(t, (&APIKey{ID: "9b2f0c4e", Name: "munki"}).Persisted())
}
