package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/franciscozunigap/sofinance/internal/store"
)

// credential documents live in their own collection, separate from user
// profiles, keyed by lowercased email.
const collectionCredentials = "auth_users"

const tokenLifetime = 168 * time.Hour

type credential struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Local is a Provider backed by the document store: bcrypt password hashes
// and HS256 bearer tokens. It also tracks one active session with
// session-changed callbacks.
type Local struct {
	store  store.Store
	secret []byte
	now    func() time.Time

	mu       sync.Mutex
	session  *Session
	nextSub  int
	watchers map[int]func(*User)
}

func NewLocal(st store.Store, secret string) *Local {
	return &Local{
		store:    st,
		secret:   []byte(secret),
		now:      time.Now,
		watchers: make(map[int]func(*User)),
	}
}

func (l *Local) CurrentUser(ctx context.Context) (User, bool) {
	if u, ok := FromContext(ctx); ok {
		return u, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil || l.now().After(l.session.ExpiresAt) {
		return User{}, false
	}
	return l.session.User, true
}

func (l *Local) CreateUser(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return Session{}, ErrInvalidEmail
	}
	if len(password) < 8 {
		return Session{}, ErrWeakPassword
	}

	if _, exists, err := l.store.Get(ctx, collectionCredentials, email); err != nil {
		return Session{}, fmt.Errorf("check existing user: %w", err)
	} else if exists {
		return Session{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	cred := credential{
		UserID:       uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    l.now().UTC(),
	}
	if err := l.store.Set(ctx, collectionCredentials, email, cred); err != nil {
		return Session{}, fmt.Errorf("save credentials: %w", err)
	}

	return l.openSession(User{ID: cred.UserID, Email: email})
}

func (l *Local) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	doc, ok, err := l.store.Get(ctx, collectionCredentials, email)
	if err != nil {
		return Session{}, fmt.Errorf("load credentials: %w", err)
	}
	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	var cred credential
	if err := doc.As(&cred); err != nil {
		return Session{}, fmt.Errorf("decode credentials: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	return l.openSession(User{ID: cred.UserID, Email: email})
}

func (l *Local) SignOut(context.Context) error {
	l.mu.Lock()
	l.session = nil
	fns := l.watcherList()
	l.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
	return nil
}

func (l *Local) OnSessionChange(fn func(*User)) func() {
	l.mu.Lock()
	l.nextSub++
	id := l.nextSub
	l.watchers[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.watchers, id)
		l.mu.Unlock()
	}
}

func (l *Local) openSession(u User) (Session, error) {
	expires := l.now().Add(tokenLifetime)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"exp":   expires.Unix(),
		"iat":   l.now().Unix(),
	})
	signed, err := token.SignedString(l.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}

	session := Session{User: u, Token: signed, ExpiresAt: expires}
	l.mu.Lock()
	l.session = &session
	fns := l.watcherList()
	l.mu.Unlock()
	for _, fn := range fns {
		user := u
		fn(&user)
	}
	return session, nil
}

func (l *Local) watcherList() []func(*User) {
	fns := make([]func(*User), 0, len(l.watchers))
	for _, fn := range l.watchers {
		fns = append(fns, fn)
	}
	return fns
}

// VerifyToken validates a bearer token and returns the user it names. Used
// by the HTTP middleware.
func (l *Local) VerifyToken(tokenString string) (User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return l.secret, nil
	})
	if err != nil || !token.Valid {
		return User{}, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if sub == "" {
		return User{}, ErrInvalidCredentials
	}
	return User{ID: sub, Email: email}, nil
}
