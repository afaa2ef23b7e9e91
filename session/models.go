package session

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// User is the domain representation of an authenticated account. Each account
// is bound to the wallet address it acts as on the ledger. No JSON annotations
// so it can be reused by different presentation layers.
type User struct {
	ID            string
	Email         string
	FullName      string
	PasswordHash  string
	WalletAddress common.Address
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	FullName      string `json:"full_name"`
	WalletAddress string `json:"wallet_address"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
