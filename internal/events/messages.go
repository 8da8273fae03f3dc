package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/franciscozunigap/sofinance/internal/core"
)

// BalanceRegisteredMessage is the event emitted after a registration commits.
// It carries the registration identity plus the resulting balance so
// consumers do not need a read back.
type BalanceRegisteredMessage struct {
	RegistrationID string          `json:"registration_id"`
	UserID         string          `json:"user_id"`
	Kind           string          `json:"type"`
	Category       string          `json:"category"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewBalanceRegisteredMessage(reg core.Registration) *BalanceRegisteredMessage {
	return &BalanceRegisteredMessage{
		RegistrationID: reg.ID,
		UserID:         reg.UserID,
		Kind:           string(reg.Kind),
		Category:       reg.Category,
		Amount:         reg.Amount,
		BalanceAfter:   reg.BalanceAfter,
		Timestamp:      reg.Date,
	}
}

func (m *BalanceRegisteredMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func BalanceRegisteredMessageFromJSON(data []byte) (*BalanceRegisteredMessage, error) {
	var msg BalanceRegisteredMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
