package events

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/franciscozunigap/sofinance/internal/core"
)

func TestBalanceRegisteredMessageFromRegistration(t *testing.T) {
	reg := core.Registration{
		ID:           "reg-1",
		UserID:       "user-1",
		Date:         time.Date(2026, time.September, 15, 10, 0, 0, 0, time.UTC),
		Kind:         core.Income,
		Category:     core.CategoryIncome,
		Amount:       decimal.NewFromInt(1500),
		BalanceAfter: decimal.NewFromInt(2500),
	}

	msg := NewBalanceRegisteredMessage(reg)
	if msg.RegistrationID != "reg-1" || msg.UserID != "user-1" {
		t.Errorf("identity fields not carried over: %+v", msg)
	}
	if msg.Kind != string(core.Income) {
		t.Errorf("Kind = %q, want %q", msg.Kind, core.Income)
	}
	if !msg.BalanceAfter.Equal(decimal.NewFromInt(2500)) {
		t.Errorf("BalanceAfter = %s, want 2500", msg.BalanceAfter)
	}
}

func TestBalanceRegisteredMessageRoundTrip(t *testing.T) {
	reg := core.Registration{
		ID:           "reg-2",
		UserID:       "user-1",
		Date:         time.Date(2026, time.September, 15, 10, 0, 0, 0, time.UTC),
		Kind:         core.Expense,
		Category:     core.CategoryNeed,
		Amount:       decimal.RequireFromString("120.50"),
		BalanceAfter: decimal.RequireFromString("879.50"),
	}

	body, err := NewBalanceRegisteredMessage(reg).ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	// Amounts travel as quoted strings so no consumer loses precision.
	if !strings.Contains(string(body), `"amount":"120.5"`) {
		t.Errorf("amount not encoded as string: %s", body)
	}

	decoded, err := BalanceRegisteredMessageFromJSON(body)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if decoded.RegistrationID != "reg-2" {
		t.Errorf("RegistrationID = %q", decoded.RegistrationID)
	}
	if !decoded.Amount.Equal(reg.Amount) || !decoded.BalanceAfter.Equal(reg.BalanceAfter) {
		t.Errorf("amounts lost in round trip: %+v", decoded)
	}
	if !decoded.Timestamp.Equal(reg.Date) {
		t.Errorf("Timestamp = %s, want %s", decoded.Timestamp, reg.Date)
	}
}

func TestBalanceRegisteredMessageFromJSONRejectsGarbage(t *testing.T) {
	if _, err := BalanceRegisteredMessageFromJSON([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}
