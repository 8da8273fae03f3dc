package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestNetTotal_SignConvention(t *testing.T) {
	tests := []struct {
		name    string
		records []BalanceRecord
		want    float64
	}{
		{
			name: "all income categories add",
			records: []BalanceRecord{
				{Amount: dec(100000), Type: Income, Category: CategoryIncome},
				{Amount: dec(50000), Type: Income, Category: CategoryIncome},
			},
			want: 150000,
		},
		{
			name: "mixed income and consumption",
			records: []BalanceRecord{
				{Amount: dec(100000), Type: Income, Category: CategoryIncome},
				{Amount: dec(30000), Type: Expense, Category: CategoryWant},
			},
			want: 70000,
		},
		{
			name: "investment subtracts regardless of type",
			records: []BalanceRecord{
				{Amount: dec(1000), Type: Income, Category: CategoryInvestment},
			},
			want: -1000,
		},
		{
			name: "type field is ignored by the category rule",
			records: []BalanceRecord{
				{Amount: dec(500), Type: Expense, Category: CategoryIncome},
			},
			want: 500,
		},
		{
			name:    "empty set",
			records: nil,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NetTotal(tt.records)
			if !got.Equal(dec(tt.want)) {
				t.Errorf("NetTotal() = %s, want %v", got, tt.want)
			}
		})
	}
}

func TestNetTotal_VersusAbsoluteTotal(t *testing.T) {
	allIncome := []BalanceRecord{
		{Amount: dec(100), Category: CategoryIncome},
		{Amount: dec(250.5), Category: CategoryIncome},
	}
	if net, abs := NetTotal(allIncome), AbsoluteTotal(allIncome); !net.Equal(abs) {
		t.Errorf("all-income set: net %s != absolute %s", net, abs)
	}

	mixed := []BalanceRecord{
		{Amount: dec(100000), Category: CategoryIncome},
		{Amount: dec(30000), Category: CategoryWant},
	}
	net, abs := NetTotal(mixed), AbsoluteTotal(mixed)
	if !net.Equal(dec(70000)) {
		t.Errorf("mixed net = %s, want 70000", net)
	}
	if !abs.Equal(dec(130000)) {
		t.Errorf("mixed absolute = %s, want 130000", abs)
	}
	if !net.LessThan(abs) {
		t.Errorf("net %s should be below absolute %s when a non-income record exists", net, abs)
	}
}

func TestValidateRecords(t *testing.T) {
	tests := []struct {
		name    string
		records []BalanceRecord
		delta   float64
		valid   bool
	}{
		{
			name:    "empty set is always invalid",
			records: nil,
			delta:   0,
			valid:   false,
		},
		{
			name: "exact match",
			records: []BalanceRecord{
				{Amount: dec(50000), Category: CategoryIncome},
			},
			delta: 50000,
			valid: true,
		},
		{
			name: "within one cent",
			records: []BalanceRecord{
				{Amount: dec(50000.01), Category: CategoryIncome},
			},
			delta: 50000,
			valid: true,
		},
		{
			name: "two cents off",
			records: []BalanceRecord{
				{Amount: dec(50000.02), Category: CategoryIncome},
			},
			delta: 50000,
			valid: false,
		},
		{
			name: "negative delta covered by expenses",
			records: []BalanceRecord{
				{Amount: dec(20000), Category: CategoryNeed},
			},
			delta: -20000,
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateRecords(tt.records, dec(tt.delta))
			if got.IsValid != tt.valid {
				t.Errorf("ValidateRecords() valid = %v, want %v (msg %q)", got.IsValid, tt.valid, got.Message)
			}
			if !got.IsValid && got.Message == "" {
				t.Error("invalid result should carry a message")
			}
		})
	}
}

func TestSuggestedRecord(t *testing.T) {
	// Balance 100000 -> user declares 150000: positive delta suggests income.
	up := SuggestedRecord(dec(50000))
	if up.Type != Income || up.Category != CategoryIncome {
		t.Errorf("positive delta suggestion = %s/%s, want income/%s", up.Type, up.Category, CategoryIncome)
	}
	if !up.Amount.Equal(dec(50000)) {
		t.Errorf("suggested amount = %s, want 50000", up.Amount)
	}
	res := ValidateRecords([]BalanceRecord{up}, dec(50000))
	if !res.IsValid {
		t.Errorf("suggested record should reconcile: %s", res.Message)
	}

	down := SuggestedRecord(dec(-30000))
	if down.Type != Expense || down.Category != CategoryNeed {
		t.Errorf("negative delta suggestion = %s/%s, want expense/%s", down.Type, down.Category, CategoryNeed)
	}
	if !down.Amount.Equal(dec(30000)) {
		t.Errorf("suggested amount = %s, want 30000", down.Amount)
	}
}
