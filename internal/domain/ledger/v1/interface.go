package ledgerv1

import (
	"errors"
)

var (
	// ErrInsufficientFunds is returned when a debit or reservation exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientReserved is returned when a release exceeds the reserved balance.
	// It indicates a core accounting bug rather than a user error.
	ErrInsufficientReserved = errors.New("insufficient reserved funds")
)

// Balance is the per-token position of a user: funds free to reserve and
// funds locked behind resting orders.
type Balance struct {
	Available uint64 `json:"available"`
	Reserved  uint64 `json:"reserved"`
}

// Total returns available plus reserved funds.
func (b Balance) Total() uint64 {
	return b.Available + b.Reserved
}

// Ledger is the balance collaborator consumed by order placement and block
// settlement. Implementations must be safe for concurrent use.
type Ledger interface {
	Deposit(userID, token string, amount uint64)
	Withdraw(userID, token string, amount uint64) error

	// Reserve moves available funds behind an order's worst-case cost.
	Reserve(userID, token string, amount uint64) error
	// Release returns reserved funds to the available balance.
	Release(userID, token string, amount uint64) error
	// Transfer moves reserved funds of one user into another user's
	// available balance. Used for trade settlement.
	Transfer(fromUserID, toUserID, token string, amount uint64) error

	Balance(userID, token string) Balance

	// StateRoot returns a deterministic commitment over all account balances.
	StateRoot() []byte
}
