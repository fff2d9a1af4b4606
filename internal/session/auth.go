package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pscheid92/eventrelay/internal/domain"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
)

const (
	anonymousPrefix = "anonymous_"
	authTimeout     = 5 * time.Second
)

// UserLoader returns the current user record for an id.
type UserLoader interface {
	Load(ctx context.Context, userID string) (*domain.User, error)
}

// Authenticator resolves the identity of a connecting client.
type Authenticator struct {
	verifier domain.TokenVerifier
	users    UserLoader
}

func NewAuthenticator(verifier domain.TokenVerifier, users UserLoader) *Authenticator {
	return &Authenticator{verifier: verifier, users: users}
}

var errMalformedAuthorization = errors.New("malformed authorization header")

// tokenFromRequest reads a bearer token from the Authorization header or the
// token query parameter. supplied reports whether the client sent credentials at
// all; a present but unusable Authorization header is an error, not an absence.
// The query parameter is only consulted when the header is missing.
func tokenFromRequest(r *http.Request) (token string, supplied bool, err error) {
	if values := r.Header.Values("Authorization"); len(values) > 0 {
		scheme, credential, _ := strings.Cut(strings.TrimSpace(values[0]), " ")
		credential = strings.TrimSpace(credential)
		if !strings.EqualFold(scheme, "Bearer") || credential == "" {
			return "", true, errMalformedAuthorization
		}
		return credential, true, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true, nil
	}
	return "", false, nil
}

// Authenticate admits a request without credentials as anonymous. Supplied
// credentials must be valid and belong to an active user; there is no fallback
// to anonymous.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, socketID string) (domain.Identity, *apperrors.Error) {
	token, supplied, err := tokenFromRequest(r)
	if err != nil {
		return domain.Identity{}, apperrors.UnauthorizedError("expected a bearer token in the authorization header", err)
	}
	if !supplied {
		return domain.Identity{
			UserID:    anonymousPrefix + socketID,
			Role:      domain.RolePublic,
			Anonymous: true,
		}, nil
	}

	userID, err := a.verifier.Verify(token)
	if err != nil {
		return domain.Identity{}, apperrors.UnauthorizedError("invalid or expired token", err)
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	user, err := a.users.Load(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		return domain.Identity{}, apperrors.UnauthorizedError("user not found", err)
	case err != nil:
		return domain.Identity{}, apperrors.UnavailableError("failed to load user", err)
	case !user.Active():
		rejection := apperrors.ForbiddenError("user is not active").WithContext("status", user.Status)
		rejection.Cause = domain.ErrUserInactive
		return domain.Identity{}, rejection
	}

	return domain.Identity{
		UserID: user.ID,
		Role:   user.Role,
		PlanID: user.PlanID,
	}, nil
}
