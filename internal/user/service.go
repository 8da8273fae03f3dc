// Package user handles onboarding: the profile document stored alongside a
// user's credentials and its cached reads.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/franciscozunigap/sofinance/internal/auth"
	"github.com/franciscozunigap/sofinance/internal/cache"
	"github.com/franciscozunigap/sofinance/internal/core"
	"github.com/franciscozunigap/sofinance/internal/log"
	"github.com/franciscozunigap/sofinance/internal/store"
)

// Profile is the onboarding document kept per user.
type Profile struct {
	ID              string           `json:"id"`
	Email           string           `json:"email"`
	Name            string           `json:"name"`
	Age             int              `json:"age,omitempty"`
	MonthlyIncome   decimal.Decimal  `json:"monthly_income"`
	PercentagePrefs core.Percentages `json:"percentage_prefs"`
	CreatedAt       time.Time        `json:"created_at"`
}

var ErrProfileNotFound = errors.New("profile not found")

// CreateInput carries everything needed to onboard a user.
type CreateInput struct {
	Email         string
	Password      string
	Name          string
	Age           int
	MonthlyIncome decimal.Decimal
}

type Service struct {
	store  store.Store
	cache  *cache.Cache
	auth   auth.Provider
	logger *log.Logger
	now    func() time.Time
}

func NewService(st store.Store, c *cache.Cache, provider auth.Provider, logger *log.Logger) *Service {
	return &Service{
		store:  st,
		cache:  c,
		auth:   provider,
		logger: logger.WithComponent(log.ComponentUser),
		now:    time.Now,
	}
}

// Create registers the credentials with the auth provider and writes the
// profile document under the new user's id.
func (s *Service) Create(ctx context.Context, input CreateInput) (Profile, auth.Session, error) {
	session, err := s.auth.CreateUser(ctx, input.Email, input.Password)
	if err != nil {
		return Profile{}, auth.Session{}, fmt.Errorf("create auth user: %w", err)
	}

	profile := Profile{
		ID:            session.User.ID,
		Email:         session.User.Email,
		Name:          input.Name,
		Age:           input.Age,
		MonthlyIncome: input.MonthlyIncome,
		CreatedAt:     s.now(),
	}
	if err := s.store.Set(ctx, core.CollectionUsers, profile.ID, profile); err != nil {
		return Profile{}, auth.Session{}, fmt.Errorf("write profile: %w", err)
	}

	s.logger.InfoContext(ctx, "user created",
		log.FieldUserID, profile.ID)
	return profile, session, nil
}

// Get fetches a profile, serving from the user-data cache when fresh.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	key := cache.Key(cache.ClassUserData, userID)

	var cached Profile
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WarnContext(ctx, "profile cache read failed",
			log.FieldUserID, userID, log.FieldError, err)
	}
	if hit {
		return cached, nil
	}

	doc, found, err := s.store.Get(ctx, core.CollectionUsers, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	if !found {
		return Profile{}, ErrProfileNotFound
	}

	var profile Profile
	if err := doc.As(&profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}

	if err := s.cache.Set(ctx, key, profile, cache.ClassUserData); err != nil {
		s.logger.WarnContext(ctx, "profile cache write failed",
			log.FieldUserID, userID, log.FieldError, err)
	}
	return profile, nil
}

// Update overwrites mutable profile fields and refreshes the cache entry.
func (s *Service) Update(ctx context.Context, profile Profile) error {
	if profile.ID == "" {
		return fmt.Errorf("update profile: missing id")
	}
	if err := s.store.Set(ctx, core.CollectionUsers, profile.ID, profile); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	key := cache.Key(cache.ClassUserData, profile.ID)
	if err := s.cache.Set(ctx, key, profile, cache.ClassUserData); err != nil {
		s.logger.WarnContext(ctx, "profile cache write failed",
			log.FieldUserID, profile.ID, log.FieldError, err)
	}
	return nil
}
