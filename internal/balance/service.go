// Package balance is the ledger and monthly-statistics engine: it validates
// incoming balance events, maintains the running balance through atomic
// read-modify-write transactions against the server-of-record, and keeps the
// local cache coherent with what was committed.
package balance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/franciscozunigap/sofinance/internal/auth"
	"github.com/franciscozunigap/sofinance/internal/cache"
	"github.com/franciscozunigap/sofinance/internal/core"
	"github.com/franciscozunigap/sofinance/internal/errs"
	"github.com/franciscozunigap/sofinance/internal/log"
	"github.com/franciscozunigap/sofinance/internal/store"
)

// EventPublisher notifies downstream consumers that a registration was
// committed. Publishing is best-effort; a failed publish never fails the
// registration.
type EventPublisher interface {
	PublishBalanceRegistered(ctx context.Context, reg core.Registration) error
}

// RegisterInput is one balance event as submitted by the client.
type RegisterInput struct {
	Kind        core.Kind       `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// PendingRegistration is the offline-queue payload for a registration that
// could not be committed. It carries the user identity explicitly because a
// replay runs outside the original session.
type PendingRegistration struct {
	UserID string        `json:"user_id"`
	Input  RegisterInput `json:"input"`
}

// RegisterResult is the structured outcome of a registration. Callers check
// Success/Error; this boundary never propagates a panic or a bare error.
type RegisterResult struct {
	Success      bool
	Registration *core.Registration
	Error        *errs.Classified
}

// Service owns the balance flows. All collaborators are injected; the
// service itself holds no mutable state.
type Service struct {
	store     store.Store
	cache     *cache.Cache
	auth      auth.Provider
	publisher EventPublisher
	logger    *log.Logger

	now   func() time.Time
	newID func() string
}

func NewService(st store.Store, c *cache.Cache, provider auth.Provider, logger *log.Logger) *Service {
	return &Service{
		store:  st,
		cache:  c,
		auth:   provider,
		logger: logger.WithComponent(log.ComponentBalance),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithPublisher attaches an event publisher for committed registrations.
func (s *Service) WithPublisher(p EventPublisher) *Service {
	s.publisher = p
	return s
}

func failure(err error) RegisterResult {
	classified := errs.Classify(err)
	return RegisterResult{Success: false, Error: &classified}
}

// Register applies one balance event: it resolves the month's aggregate
// (falling back to the previous month's balance, else zero, as carry-in),
// computes the resulting balance, and persists the new registration together
// with the updated aggregate in a single transaction. Both documents commit
// or neither does; lost updates are prevented by the store's transaction
// isolation, not by any locking here.
func (s *Service) Register(ctx context.Context, input RegisterInput) RegisterResult {
	user, ok := s.auth.CurrentUser(ctx)
	if !ok {
		return failure(fmt.Errorf("register: %w", errs.ErrUnauthenticated))
	}

	now := s.now()
	reg := core.Registration{
		ID:          s.newID(),
		UserID:      user.ID,
		Date:        now,
		Kind:        input.Kind,
		Description: input.Description,
		Category:    input.Category,
		Amount:      input.Amount,
		Month:       int(now.Month()),
		Year:        now.Year(),
		CreatedAt:   now,
	}
	if err := reg.Validate(); err != nil {
		return failure(fmt.Errorf("%w: %w", errs.ErrValidation, err))
	}

	err := s.store.RunTransaction(ctx, func(tx store.Tx) error {
		stats, found, err := s.loadStats(tx, user.ID, reg.Year, reg.Month)
		if err != nil {
			return err
		}

		carryIn := decimal.Zero
		if found {
			carryIn = stats.Balance
		} else {
			prev, err := s.previousMonthBalance(tx, user.ID, reg.Year, reg.Month)
			if err != nil {
				return err
			}
			carryIn = prev
		}

		if reg.Kind.Adds() {
			reg.BalanceAfter = carryIn.Add(reg.Amount)
		} else {
			reg.BalanceAfter = carryIn.Sub(reg.Amount)
		}

		if found {
			stats = applyToStats(stats, reg, now)
		} else {
			stats = newStats(reg, carryIn, now)
		}

		if err := tx.Set(core.CollectionRegistrations, reg.ID, reg); err != nil {
			return err
		}
		return tx.Set(core.CollectionMonthlyStats, core.StatsKey(reg.Year, reg.Month, user.ID), stats)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "registration failed",
			log.FieldUserID, user.ID,
			log.FieldKind, string(reg.Kind),
			log.FieldError, err)
		return failure(err)
	}

	if err := s.cache.InvalidateBalance(ctx, user.ID); err != nil {
		// Served data may be stale for one TTL window; the write itself
		// committed.
		s.logger.WarnContext(ctx, "cache invalidation failed",
			log.FieldUserID, user.ID, log.FieldError, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBalanceRegistered(ctx, reg); err != nil {
			s.logger.WarnContext(ctx, "event publish failed",
				log.FieldUserID, user.ID, log.FieldError, err)
		}
	}

	s.logger.InfoContext(ctx, "balance registered",
		log.FieldUserID, user.ID,
		log.FieldKind, string(reg.Kind),
		log.FieldAmount, reg.Amount.String(),
		log.FieldBalance, reg.BalanceAfter.String())

	return RegisterResult{Success: true, Registration: &reg}
}

func (s *Service) loadStats(tx store.Tx, userID string, year, month int) (core.MonthlyStats, bool, error) {
	doc, found, err := tx.Get(core.CollectionMonthlyStats, core.StatsKey(year, month, userID))
	if err != nil {
		return core.MonthlyStats{}, false, err
	}
	if !found {
		return core.MonthlyStats{}, false, nil
	}
	var stats core.MonthlyStats
	if err := doc.As(&stats); err != nil {
		return core.MonthlyStats{}, false, err
	}
	return stats, true, nil
}

func (s *Service) previousMonthBalance(tx store.Tx, userID string, year, month int) (decimal.Decimal, error) {
	prevYear, prevMonth := year, month-1
	if prevMonth == 0 {
		prevYear, prevMonth = year-1, 12
	}
	doc, found, err := tx.Get(core.CollectionMonthlyStats, core.StatsKey(prevYear, prevMonth, userID))
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		return decimal.Zero, nil
	}
	var stats core.MonthlyStats
	if err := doc.As(&stats); err != nil {
		return decimal.Zero, err
	}
	return stats.Balance, nil
}

// applyToStats folds one registration into an existing aggregate. Income
// adds to TotalIncome; expense and adjustment both add to TotalExpenses.
// The aggregate math keys off the event kind, unlike the reconciliation
// rule, which keys off the category string.
func applyToStats(stats core.MonthlyStats, reg core.Registration, now time.Time) core.MonthlyStats {
	if reg.Kind.Adds() {
		stats.TotalIncome = stats.TotalIncome.Add(reg.Amount)
	} else {
		stats.TotalExpenses = stats.TotalExpenses.Add(reg.Amount)
	}
	stats.Balance = reg.BalanceAfter
	stats.Percentages = core.CalculatePercentages(stats.TotalIncome, stats.TotalExpenses)
	stats.Variation = variationFrom(stats.Variation.PreviousMonthBalance, stats.Balance)
	stats.UpdatedAt = now
	return stats
}

// newStats lazily creates the month's aggregate from its first event,
// seeding the variation block with the carried-in balance. Percentages start
// zeroed and are first computed on the next event.
func newStats(reg core.Registration, carryIn decimal.Decimal, now time.Time) core.MonthlyStats {
	stats := core.MonthlyStats{
		UserID:    reg.UserID,
		Month:     reg.Month,
		Year:      reg.Year,
		Balance:   reg.BalanceAfter,
		Variation: variationFrom(carryIn, reg.BalanceAfter),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if reg.Kind.Adds() {
		stats.TotalIncome = reg.Amount
	} else {
		stats.TotalExpenses = reg.Amount
	}
	return stats
}

func variationFrom(previous, balance decimal.Decimal) core.Variation {
	v := core.Variation{
		PreviousMonthBalance: previous,
		BalanceChange:        balance.Sub(previous),
	}
	if !previous.IsZero() {
		v.PercentageChange = v.BalanceChange.Div(previous).Mul(decimal.NewFromInt(100)).Round(1)
	}
	return v
}
