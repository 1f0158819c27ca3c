// internal/api/authz/authz.go
package authz

import (
	"context"
	"errors"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

// Roles carried in auth tokens.
const (
	RoleCoach       = "coach"
	RoleParticipant = "participant"
)

// AuthUser is the authenticated caller, resolved from the bearer token.
type AuthUser struct {
	ID    int64
	OrgID int64
	Role  string
}

func (u *AuthUser) IsCoach() bool {
	return u != nil && u.Role == RoleCoach
}

type contextKey int

const userContextKey contextKey = iota

func ContextWithUser(ctx context.Context, user *AuthUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func UserFromContext(ctx context.Context) *AuthUser {
	user, _ := ctx.Value(userContextKey).(*AuthUser)
	return user
}

// RequireRole checks that the context carries an authenticated user with
// the given role.
func RequireRole(ctx context.Context, role string) error {
	user := UserFromContext(ctx)
	if user == nil {
		return ErrUnauthenticated
	}
	if user.Role != role {
		return ErrForbidden
	}
	return nil
}
