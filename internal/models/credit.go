package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryType classifies a coin ledger row.
type EntryType string

const (
	EntrySignupBonus  EntryType = "signup_bonus"
	EntryEscrowLock   EntryType = "escrow_lock"
	EntryEscrowRefund EntryType = "escrow_refund"
	EntryTaskEarning  EntryType = "task_earning"
	EntryWithdrawal   EntryType = "withdrawal"
	EntryTransferOut  EntryType = "transfer_out"
	EntryTransferIn   EntryType = "transfer_in"
)

// CreditLedger is one immutable balance movement. Amount is signed: debits are negative.
type CreditLedger struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	ReferenceID  *uuid.UUID `json:"reference_id,omitempty"`
	EntryType    EntryType  `json:"entry_type"`
	Amount       int64      `json:"amount"`
	BalanceAfter int64      `json:"balance_after"`
	CreatedAt    time.Time  `json:"created_at"`
}
