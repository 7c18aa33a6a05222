package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the economic identity an account registers with.
type Role string

const (
	RoleBuyer       Role = "buyer"
	RoleWorker      Role = "worker"
	RoleUnspecified Role = "unspecified"
	// RoleAdmin settles withdrawals. It is bootstrapped from config and never self-registered.
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleWorker, RoleUnspecified, RoleAdmin:
		return true
	}
	return false
}

// Registrable reports whether r may be chosen at sign-up.
func (r Role) Registrable() bool {
	switch r {
	case RoleBuyer, RoleWorker, RoleUnspecified:
		return true
	}
	return false
}

// StartingBalance is the coin grant credited at registration.
func (r Role) StartingBalance() int64 {
	switch r {
	case RoleWorker:
		return 10
	case RoleBuyer:
		return 50
	}
	return 0
}

type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CoinBalance  int64     `json:"coin_balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
