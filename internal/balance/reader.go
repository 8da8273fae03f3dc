package balance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/franciscozunigap/sofinance/internal/cache"
	"github.com/franciscozunigap/sofinance/internal/core"
	"github.com/franciscozunigap/sofinance/internal/log"
	"github.com/franciscozunigap/sofinance/internal/store"
)

// Summary is the condensed current-month view the dashboard renders.
type Summary struct {
	TotalIncome   decimal.Decimal  `json:"total_income"`
	TotalExpenses decimal.Decimal  `json:"total_expenses"`
	Balance       decimal.Decimal  `json:"balance"`
	Percentages   core.Percentages `json:"percentages"`
}

// CurrentBalance returns the user's balance for the current month,
// preferring the cache. A missing aggregate reads as zero, and a backend
// failure degrades to zero with a logged error instead of propagating.
// Reads never block the client on the backend's availability.
func (s *Service) CurrentBalance(ctx context.Context, userID string) decimal.Decimal {
	key := cache.Key(cache.ClassBalance, userID)

	var cached decimal.Decimal
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached
	}

	now := s.now()
	stats, found, err := s.fetchStats(ctx, userID, now.Year(), int(now.Month()))
	if err != nil {
		s.logger.ErrorContext(ctx, "balance read failed, serving zero",
			log.FieldUserID, userID, log.FieldError, err)
		return decimal.Zero
	}

	bal := decimal.Zero
	if found {
		bal = stats.Balance
	}
	if err := s.cache.Set(ctx, key, bal, cache.ClassBalance); err != nil {
		s.logger.WarnContext(ctx, "balance cache write failed",
			log.FieldUserID, userID, log.FieldError, err)
	}
	return bal
}

// MonthStats returns the aggregate for a specific month, cached for the
// monthlyStats TTL. found is false when the user has no activity that month.
func (s *Service) MonthStats(ctx context.Context, userID string, year, month int) (core.MonthlyStats, bool, error) {
	key := cache.Key(cache.ClassMonthlyStats, userID, fmt.Sprintf("%d-%02d", year, month))

	var cached core.MonthlyStats
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, true, nil
	}

	stats, found, err := s.fetchStats(ctx, userID, year, month)
	if err != nil {
		return core.MonthlyStats{}, false, fmt.Errorf("month stats %d-%02d: %w", year, month, err)
	}
	if !found {
		return core.MonthlyStats{}, false, nil
	}
	if err := s.cache.Set(ctx, key, stats, cache.ClassMonthlyStats); err != nil {
		s.logger.WarnContext(ctx, "stats cache write failed",
			log.FieldUserID, userID, log.FieldError, err)
	}
	return stats, true, nil
}

// History returns the user's registrations, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]core.Registration, error) {
	key := cache.Key(cache.ClassHistory, userID, fmt.Sprintf("%d", limit))

	var cached []core.Registration
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	docs, err := s.store.Query(ctx, core.CollectionRegistrations, store.Query{
		Filters: []store.Filter{{Field: "user_id", Op: "==", Value: userID}},
		OrderBy: "date",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	regs := make([]core.Registration, 0, len(docs))
	for _, doc := range docs {
		var reg core.Registration
		if err := doc.As(&reg); err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}

	if err := s.cache.Set(ctx, key, regs, cache.ClassHistory); err != nil {
		s.logger.WarnContext(ctx, "history cache write failed",
			log.FieldUserID, userID, log.FieldError, err)
	}
	return regs, nil
}

// CurrentSummary condenses the current month's aggregate, recomputing the
// percentage breakdown from the live totals.
func (s *Service) CurrentSummary(ctx context.Context, userID string) (Summary, error) {
	key := cache.Key(cache.ClassSummaryStats, userID)

	var cached Summary
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	now := s.now()
	stats, found, err := s.fetchStats(ctx, userID, now.Year(), int(now.Month()))
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}

	summary := Summary{
		TotalIncome:   decimal.Zero,
		TotalExpenses: decimal.Zero,
		Balance:       decimal.Zero,
		Percentages:   core.CalculatePercentages(decimal.Zero, decimal.Zero),
	}
	if found {
		summary = Summary{
			TotalIncome:   stats.TotalIncome,
			TotalExpenses: stats.TotalExpenses,
			Balance:       stats.Balance,
			Percentages:   core.CalculatePercentages(stats.TotalIncome, stats.TotalExpenses),
		}
	}

	if err := s.cache.Set(ctx, key, summary, cache.ClassSummaryStats); err != nil {
		s.logger.WarnContext(ctx, "summary cache write failed",
			log.FieldUserID, userID, log.FieldError, err)
	}
	return summary, nil
}

// WatchBalance subscribes to live changes of the current month's aggregate
// and invokes fn with each new balance. The returned function cancels the
// subscription.
func (s *Service) WatchBalance(userID string, fn func(decimal.Decimal)) (func(), error) {
	now := s.now()
	id := core.StatsKey(now.Year(), int(now.Month()), userID)
	return s.store.Subscribe(core.CollectionMonthlyStats, id, func(doc store.Document) {
		var stats core.MonthlyStats
		if err := doc.As(&stats); err != nil {
			return
		}
		fn(stats.Balance)
	})
}

func (s *Service) fetchStats(ctx context.Context, userID string, year, month int) (core.MonthlyStats, bool, error) {
	doc, found, err := s.store.Get(ctx, core.CollectionMonthlyStats, core.StatsKey(year, month, userID))
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
