package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/eventrelay/internal/domain"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
)

type failingUsers struct{ err error }

func (f failingUsers) Load(context.Context, string) (*domain.User, error) { return nil, f.err }

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name         string
		target       string
		header       []string
		want         string
		wantSupplied bool
		wantErr      bool
	}{
		{name: "none", target: "/ws"},
		{name: "empty query", target: "/ws?token="},
		{name: "query", target: "/ws?token=abc", want: "abc", wantSupplied: true},
		{name: "bearer", target: "/ws", header: []string{"Bearer xyz"}, want: "xyz", wantSupplied: true},
		{name: "scheme is case-insensitive", target: "/ws", header: []string{"bearer xyz"}, want: "xyz", wantSupplied: true},
		{name: "extra whitespace", target: "/ws", header: []string{"  BEARER   xyz "}, want: "xyz", wantSupplied: true},
		{name: "bearer wins over query", target: "/ws?token=abc", header: []string{"Bearer xyz"}, want: "xyz", wantSupplied: true},
		{name: "empty bearer", target: "/ws", header: []string{"Bearer "}, wantSupplied: true, wantErr: true},
		{name: "scheme only", target: "/ws", header: []string{"Bearer"}, wantSupplied: true, wantErr: true},
		{name: "empty header value", target: "/ws?token=abc", header: []string{""}, wantSupplied: true, wantErr: true},
		{name: "other scheme does not fall back to query", target: "/ws?token=abc", header: []string{"Basic Zm9v"}, wantSupplied: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for _, h := range tt.header {
				r.Header.Add("Authorization", h)
			}

			token, supplied, err := tokenFromRequest(r)
			if tt.wantErr {
				require.ErrorIs(t, err, errMalformedAuthorization)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, token)
			assert.Equal(t, tt.wantSupplied, supplied)
		})
	}
}

func TestAuthenticate_Anonymous(t *testing.T) {
	a := NewAuthenticator(testTokens, testUsers)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)

	id, err := a.Authenticate(context.Background(), r, "sock-1")
	require.Nil(t, err)
	assert.True(t, id.Anonymous)
	assert.Equal(t, "anonymous_sock-1", id.UserID)
	assert.Equal(t, domain.RolePublic, id.Role)
}

func TestAuthenticate_ActiveUser(t *testing.T) {
	a := NewAuthenticator(testTokens, testUsers)
	r := httptest.NewRequest(http.MethodGet, "/ws?token=token-u1", nil)

	id, err := a.Authenticate(context.Background(), r, "sock-1")
	require.Nil(t, err)
	assert.Equal(t, domain.Identity{UserID: "u1", Role: domain.RoleUser, PlanID: "pro"}, id)
}

func TestAuthenticate_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		token string
		users UserLoader
		want  apperrors.ErrorType
	}{
		{"unknown token", "bogus", testUsers, apperrors.TypeUnauthorized},
		{"unknown user", "token-ghost", testUsers, apperrors.TypeUnauthorized},
		{"suspended user", "token-banned", testUsers, apperrors.TypeForbidden},
		{"store down", "token-u1", failingUsers{err: errors.New("connection refused")}, apperrors.TypeUnavailable},
		{"wrapped not found", "token-u1", failingUsers{err: errors.Join(errors.New("load"), domain.ErrUserNotFound)}, apperrors.TypeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthenticator(testTokens, tt.users)
			r := httptest.NewRequest(http.MethodGet, "/ws?token="+tt.token, nil)

			_, err := a.Authenticate(context.Background(), r, "sock-1")
			require.NotNil(t, err)
			assert.Equal(t, tt.want, err.Type)
		})
	}
}

func TestAuthenticate_SuppliedHeaderNeverAnonymous(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   apperrors.ErrorType
	}{
		{"lowercase scheme with unknown user", "bearer token-ghost", apperrors.TypeUnauthorized},
		{"empty bearer", "Bearer ", apperrors.TypeUnauthorized},
		{"other scheme", "Token token-ghost", apperrors.TypeUnauthorized},
		{"lowercase scheme with suspended user", "bearer token-banned", apperrors.TypeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthenticator(testTokens, testUsers)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Header.Set("Authorization", tt.header)

			id, err := a.Authenticate(context.Background(), r, "sock-1")
			require.NotNil(t, err)
			assert.Equal(t, tt.want, err.Type)
			assert.False(t, id.Anonymous)
		})
	}
}

func TestAuthenticate_LowercaseBearerAccepted(t *testing.T) {
	a := NewAuthenticator(testTokens, testUsers)
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "bearer token-u1")

	id, err := a.Authenticate(context.Background(), r, "sock-1")
	require.Nil(t, err)
	assert.Equal(t, "u1", id.UserID)
}

func TestAuthenticate_InactiveUserCause(t *testing.T) {
	a := NewAuthenticator(testTokens, testUsers)
	r := httptest.NewRequest(http.MethodGet, "/ws?token=token-banned", nil)

	_, err := a.Authenticate(context.Background(), r, "sock-1")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, domain.ErrUserInactive)
	assert.Equal(t, domain.UserStatusSuspended, err.Context["status"])
}
