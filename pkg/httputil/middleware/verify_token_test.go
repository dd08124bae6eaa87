package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/stretchr/testify/assert"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

var staticVerifier = TokenVerifierFunc(func(_ context.Context, token string) (*oidc.IntrospectionResponse, error) {
	switch token {
	case "good":
		return &oidc.IntrospectionResponse{Active: true, Subject: "u1"}, nil
	case "inactive":
		return &oidc.IntrospectionResponse{Active: false, Subject: "u2"}, nil
	}
	return nil, errors.New("invalid token")
})

func TestVerifyBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		optional bool
		status   int
		subject  string
	}{
		{name: "valid token", header: "Bearer good", status: http.StatusOK, subject: "u1"},
		{name: "scheme is case-insensitive", header: "bearer good", status: http.StatusOK, subject: "u1"},
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "inactive principal", header: "Bearer inactive", status: http.StatusUnauthorized},
		{name: "optional without header", optional: true, status: http.StatusOK},
		{name: "optional with invalid token", header: "Bearer nope", optional: true, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subject string
			handler := VerifyBearerToken(staticVerifier, !tt.optional)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if user, ok := httputil.OIDCUser(r); ok {
					subject = user.Subject
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.subject, subject)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rr.Body.String(), `"statusCode":401`)
			}
		})
	}
}
