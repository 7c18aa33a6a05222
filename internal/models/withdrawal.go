package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalPaid     WithdrawalStatus = "paid"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// CanTransitionTo reports whether a withdrawal may move from s to next.
// The table allows an approved step between pending and paid, but the
// settlement service only acts on pending requests and never writes approved.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	switch s {
	case WithdrawalPending:
		switch next {
		case WithdrawalApproved, WithdrawalPaid, WithdrawalRejected:
			return true
		case WithdrawalPending:
			return false
		}
	case WithdrawalApproved:
		switch next {
		case WithdrawalPaid, WithdrawalRejected:
			return true
		case WithdrawalPending, WithdrawalApproved:
			return false
		}
	case WithdrawalPaid, WithdrawalRejected:
		return false
	}
	return false
}

type WithdrawalRequest struct {
	ID             uuid.UUID        `json:"id"`
	WorkerID       uuid.UUID        `json:"worker_id"`
	CoinAmount     int64            `json:"coin_amount"`
	MonetaryAmount decimal.Decimal  `json:"monetary_amount"`
	PaymentMethod  string           `json:"payment_method"`
	AccountRef     string           `json:"account_ref"`
	Status         WithdrawalStatus `json:"status"`
	RejectReason   string           `json:"reject_reason,omitempty"`
	RequestedAt    time.Time        `json:"requested_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
}

// PaymentRecord is written once when a withdrawal is settled and never updated.
type PaymentRecord struct {
	ID            uuid.UUID       `json:"id"`
	WithdrawalID  uuid.UUID       `json:"withdrawal_id"`
	WorkerID      uuid.UUID       `json:"worker_id"`
	CoinAmount    int64           `json:"coin_amount"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	AccountRef    string          `json:"account_ref"`
	Confirmation  string          `json:"confirmation"`
	SettledAt     time.Time       `json:"settled_at"`
}
