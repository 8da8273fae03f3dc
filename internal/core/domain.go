package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income     Kind = "income"
	Expense    Kind = "expense"
	Adjustment Kind = "adjustment"
)

// Category labels shown by the mobile client. The reconciliation sign rule
// keys off CategoryIncome as a literal string match.
const (
	CategoryIncome     = "Ingreso"
	CategoryNeed       = "Necesidad"
	CategoryWant       = "Consumo"
	CategoryInvestment = "Inversión"
)

// Document collections in the server-of-record.
const (
	CollectionRegistrations = "balances"
	CollectionMonthlyStats  = "monthly_stats"
	CollectionUsers         = "users"
)

type (
	Kind string

	// Registration is an immutable ledger entry: one financial event,
	// created once per user action and never mutated.
	Registration struct {
		ID           string          `json:"id"`
		UserID       string          `json:"user_id"`
		Date         time.Time       `json:"date"`
		Kind         Kind            `json:"type"`
		Description  string          `json:"description"`
		Category     string          `json:"category"`
		Amount       decimal.Decimal `json:"amount"`
		BalanceAfter decimal.Decimal `json:"balance_after"`
		Month        int             `json:"month"`
		Year         int             `json:"year"`
		CreatedAt    time.Time       `json:"created_at"`
	}

	// Percentages is the needs/wants/savings/investment breakdown of a
	// month, each value 0-100 with one decimal of precision.
	Percentages struct {
		Needs      decimal.Decimal `json:"needs"`
		Wants      decimal.Decimal `json:"wants"`
		Savings    decimal.Decimal `json:"savings"`
		Investment decimal.Decimal `json:"investment"`
	}

	// Variation tracks how a month's balance moved relative to the
	// previous month.
	Variation struct {
		BalanceChange        decimal.Decimal `json:"balance_change"`
		PercentageChange     decimal.Decimal `json:"percentage_change"`
		PreviousMonthBalance decimal.Decimal `json:"previous_month_balance"`
	}

	// MonthlyStats is the mutable per-user-per-month aggregate. It is
	// created lazily on the first registration of a month, seeded from the
	// prior month's balance, and rewritten on every registration after.
	MonthlyStats struct {
		UserID        string          `json:"user_id"`
		Month         int             `json:"month"`
		Year          int             `json:"year"`
		TotalIncome   decimal.Decimal `json:"total_income"`
		TotalExpenses decimal.Decimal `json:"total_expenses"`
		Balance       decimal.Decimal `json:"balance"`
		Percentages   Percentages     `json:"percentages"`
		Variation     Variation       `json:"variation"`
		CreatedAt     time.Time       `json:"created_at"`
		UpdatedAt     time.Time       `json:"updated_at"`
	}
)

var (
	ErrInvalidKind      = errors.New("invalid registration kind")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyCategory    = errors.New("empty category")
	ErrEmptyUser        = errors.New("empty user id")
)

// StatsKey returns the document id of a user's monthly aggregate. The
// "{year}-{month:02d}_{userID}" layout is shared with the mobile client and
// must not change.
func StatsKey(year, month int, userID string) string {
	return fmt.Sprintf("%d-%02d_%s", year, month, userID)
}

func (k Kind) Valid() bool {
	switch k {
	case Income, Expense, Adjustment:
		return true
	}
	return false
}

// Adds reports whether an event of this kind increases the running balance.
// Only income adds; expense and adjustment both subtract.
func (k Kind) Adds() bool {
	return k == Income
}

func (r Registration) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUser
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if len(strings.TrimSpace(r.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(r.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if strings.TrimSpace(r.Category) == "" {
		return ErrEmptyCategory
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// SignedAmount returns the amount with the sign the ledger applies to the
// running balance: positive for income, negative otherwise.
func (r Registration) SignedAmount() decimal.Decimal {
	if r.Kind.Adds() {
		return r.Amount
	}
	return r.Amount.Neg()
}
