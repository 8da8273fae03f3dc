// Package auth defines the auth-provider contract the rest of the app
// consumes, mirroring the managed provider's surface: current-user accessor,
// credential signup/signin, signout and a session-changed subscription.
package auth

import (
	"context"
	"errors"
	"time"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an authenticated user plus the bearer token that proves it.
type Session struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password too short (min 8 characters)")
	ErrInvalidEmail       = errors.New("invalid email")
)

type Provider interface {
	// CurrentUser resolves the authenticated user, preferring a user
	// attached to the context (set by transport middleware) over the
	// provider's active session.
	CurrentUser(ctx context.Context) (User, bool)

	CreateUser(ctx context.Context, email, password string) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context) error

	// OnSessionChange registers fn to run whenever the active session
	// changes; fn receives nil on sign-out. The returned function
	// unsubscribes.
	OnSessionChange(fn func(*User)) func()
}

type ctxKey struct{}

// WithUser attaches an authenticated user to the context.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext extracts the user a transport layer attached, if any.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}
