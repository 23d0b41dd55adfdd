package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/zentral/zentral/internal/auth"
	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/storage"
)

type contextKey string

const APIKeyContextKey contextKey = "api_key"

// TokenVerifier verifies OIDC bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*auth.OIDCClaims, error)
}

// Auth creates authentication middleware. Credentials are sent as
// "Authorization: Bearer <key>" or "Authorization: Token <key>". Tokens that
// are not API keys are checked against verifier when it is not nil.
func Auth(store storage.Storage, bootstrapKey string, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := hlog.FromRequest(r)

			token, ok := credential(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, "missing or invalid authorization header")
				return
			}

			ctx := r.Context()

			// Check if we have any API keys in the database
			keyCount, err := store.CountAPIKeys(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("could not count API keys")
				http.Error(w, `{"code":500,"message":"internal server error"}`, http.StatusInternalServerError)
				return
			}

			// If no keys exist and bootstrap key is set, allow bootstrap key
			if keyCount == 0 && bootstrapKey != "" &&
				subtle.ConstantTimeCompare([]byte(token), []byte(bootstrapKey)) == 1 {
				ctx = context.WithValue(ctx, APIKeyContextKey, domain.BootstrapAPIKey())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			storedKey, err := store.GetAPIKeyByHash(ctx, hashAPIKey(token))
			switch {
			case err == nil:
				// Update last used timestamp (fire and forget)
				go func() {
					_ = store.UpdateAPIKeyLastUsed(context.Background(), storedKey.ID)
				}()
				ctx = context.WithValue(ctx, APIKeyContextKey, storedKey)
				next.ServeHTTP(w, r.WithContext(ctx))
			case !errors.Is(err, domain.ErrNotFound):
				logger.Error().Err(err).Msg("could not get API key")
				http.Error(w, `{"code":500,"message":"internal server error"}`, http.StatusInternalServerError)
			case verifier != nil && strings.Count(token, ".") == 2:
				claims, err := verifier.Verify(ctx, token)
				if err != nil {
					logger.Info().Err(err).Msg("rejected bearer token")
					unauthorized(w, "invalid token")
					return
				}
				ctx = context.WithValue(ctx, APIKeyContextKey, domain.OIDCAPIKey(claims.Subject, claims.Email))
				next.ServeHTTP(w, r.WithContext(ctx))
			default:
				unauthorized(w, "invalid API key")
			}
		})
	}
}

func credential(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || (scheme != "Bearer" && scheme != "Token") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"code":401,"message":"` + message + `"}`))
}

// hashAPIKey creates a SHA-256 hash of the API key.
// We use SHA-256 for fast lookups since API keys are already high-entropy random strings.
func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GetAPIKeyFromContext retrieves the API key from the request context.
func GetAPIKeyFromContext(ctx context.Context) *domain.APIKey {
	key, _ := ctx.Value(APIKeyContextKey).(*domain.APIKey)
	return key
}
