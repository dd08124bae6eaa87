package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.uber.org/zap"
)

// TokenVerifier validates a bearer token and returns the principal it names.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*oidc.IntrospectionResponse, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, token string) (*oidc.IntrospectionResponse, error)

func (f TokenVerifierFunc) Verify(ctx context.Context, token string) (*oidc.IntrospectionResponse, error) {
	return f(ctx, token)
}

// VerifyBearerToken is middleware that verifies tokens in Authorization headers
// and stores the principal under httputil.OIDCUserCtxKey.
// By default, it sends a 401 Unauthorized response if the token is missing or invalid.
// If send401Unauthorized is false, requests without a bearer token continue
// anonymously; a bearer token that fails verification is still rejected.
func VerifyBearerToken(verifier TokenVerifier, send401Unauthorized ...bool) func(http.Handler) http.Handler {
	send401 := true
	if len(send401Unauthorized) > 0 {
		send401 = send401Unauthorized[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				if send401 {
					httputil.Error(w, r, http.StatusUnauthorized, "Access token is required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			user, err := verifier.Verify(r.Context(), token)
			if err != nil || user == nil || !user.Active {
				httputil.Logger(r).Debug("token verification failed", zap.Error(err))
				httputil.Error(w, r, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), httputil.OIDCUserCtxKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from a case-insensitive "Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
