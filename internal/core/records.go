package core

import "github.com/shopspring/decimal"

// BalanceRecord is a draft ledger line collected during a manual balance
// correction. It is never persisted as such; a record set that reconciles is
// turned into registrations one by one.
type BalanceRecord struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        Kind            `json:"type"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
}

// ValidationResult is the outcome of checking a record set against a
// declared balance delta.
type ValidationResult struct {
	IsValid bool
	Message string
}

// NetTotal sums the records with the reconciliation sign convention: a
// record adds its amount iff its category is exactly CategoryIncome; every
// other category subtracts. This deliberately consults the category string
// and not the Type field: the ledger writer's aggregate math keys off Type,
// and the two rules disagree for records like {type: income, category:
// "Inversión"}. Both behaviors are load-bearing; do not unify them here.
func NetTotal(records []BalanceRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if r.Category == CategoryIncome {
			total = total.Add(r.Amount)
		} else {
			total = total.Sub(r.Amount)
		}
	}
	return total
}

// AbsoluteTotal sums the magnitudes of all records, ignoring sign. Display
// only.
func AbsoluteTotal(records []BalanceRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount.Abs())
	}
	return total
}

// ValidateRecords checks that a record set accounts exactly (within one
// cent) for the declared balance delta.
func ValidateRecords(records []BalanceRecord, delta decimal.Decimal) ValidationResult {
	if len(records) == 0 {
		return ValidationResult{
			IsValid: false,
			Message: "Debes agregar al menos un registro",
		}
	}
	diff := NetTotal(records).Sub(delta).Abs()
	if diff.GreaterThan(Tolerance) {
		return ValidationResult{
			IsValid: false,
			Message: "Los registros no suman la diferencia declarada",
		}
	}
	return ValidationResult{IsValid: true}
}

// SuggestedRecord returns the draft record a manual correction starts from:
// an income line when the declared delta is positive, otherwise an expense
// against needs.
func SuggestedRecord(delta decimal.Decimal) BalanceRecord {
	if delta.IsPositive() {
		return BalanceRecord{
			Amount:   delta,
			Type:     Income,
			Category: CategoryIncome,
		}
	}
	return BalanceRecord{
		Amount:   delta.Abs(),
		Type:     Expense,
		Category: CategoryNeed,
	}
}
