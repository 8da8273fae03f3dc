// Package core holds the SoFinance domain: ledger entries, monthly
// aggregates and the validation rules the balance flows share.
//
// This file contains monetary parsing and the percentage math used by the
// monthly statistics.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Tolerance is the largest difference between a declared balance delta and
// the net total of its records that still reconciles (one cent).
var Tolerance = decimal.NewFromFloat(0.01)

var hundred = decimal.NewFromInt(100)

// Share of a month's expenses attributed to needs versus wants when no
// per-record breakdown exists.
var (
	needsShare = decimal.NewFromFloat(0.6)
	wantsShare = decimal.NewFromFloat(0.4)
)

// ParseAmount converts a user-entered decimal string to an amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Only
// strictly positive values are valid.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// CalculatePercentages derives the needs/wants/savings/investment breakdown
// of a month from its totals. Needs take 60% of expenses and wants the
// remaining 40%; savings is whatever income was not spent. Each value is a
// percentage of income, rounded to one decimal and clamped to 0-100. A month
// with no income has an all-zero breakdown.
func CalculatePercentages(totalIncome, totalExpenses decimal.Decimal) Percentages {
	if !totalIncome.IsPositive() {
		return Percentages{
			Needs:      decimal.Zero,
			Wants:      decimal.Zero,
			Savings:    decimal.Zero,
			Investment: decimal.Zero,
		}
	}
	needs := totalExpenses.Mul(needsShare).Div(totalIncome).Mul(hundred)
	wants := totalExpenses.Mul(wantsShare).Div(totalIncome).Mul(hundred)
	savings := totalIncome.Sub(totalExpenses).Div(totalIncome).Mul(hundred)
	return Percentages{
		Needs:      clampPercent(needs),
		Wants:      clampPercent(wants),
		Savings:    clampPercent(savings),
		Investment: decimal.Zero,
	}
}

func clampPercent(d decimal.Decimal) decimal.Decimal {
	d = d.Round(1)
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}
