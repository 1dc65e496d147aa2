package ledger

import (
	"testing"

	ledgerv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/ledger/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test 1: Deposit and withdraw round trip
func TestLedger_DepositWithdraw(t *testing.T) {
	l := New()

	l.Deposit("alice", "USDT", 1_000)
	assert.Equal(t, uint64(1_000), l.Balance("alice", "USDT").Available)

	require.NoError(t, l.Withdraw("alice", "USDT", 400))
	assert.Equal(t, uint64(600), l.Balance("alice", "USDT").Available)

	err := l.Withdraw("alice", "USDT", 601)
	assert.ErrorIs(t, err, ledgerv1.ErrInsufficientFunds)
	assert.Equal(t, uint64(600), l.Balance("alice", "USDT").Available)
}

// Test 2: Reserve locks funds, release returns them
func TestLedger_ReserveRelease(t *testing.T) {
	l := New()
	l.Deposit("alice", "USDT", 1_000)

	require.NoError(t, l.Reserve("alice", "USDT", 700))
	b := l.Balance("alice", "USDT")
	assert.Equal(t, uint64(300), b.Available)
	assert.Equal(t, uint64(700), b.Reserved)
	assert.Equal(t, uint64(1_000), b.Total())

	// reserved funds cannot be withdrawn or re-reserved
	assert.ErrorIs(t, l.Withdraw("alice", "USDT", 400), ledgerv1.ErrInsufficientFunds)
	assert.ErrorIs(t, l.Reserve("alice", "USDT", 400), ledgerv1.ErrInsufficientFunds)

	require.NoError(t, l.Release("alice", "USDT", 700))
	b = l.Balance("alice", "USDT")
	assert.Equal(t, uint64(1_000), b.Available)
	assert.Equal(t, uint64(0), b.Reserved)

	assert.ErrorIs(t, l.Release("alice", "USDT", 1), ledgerv1.ErrInsufficientReserved)
}

// Test 3: Transfer settles reserved funds into the counterparty and
// conserves the total supply of each token
func TestLedger_Transfer(t *testing.T) {
	l := New()
	l.Deposit("alice", "USDT", 1_000)
	l.Deposit("bob", "ETH", 50)

	require.NoError(t, l.Reserve("alice", "USDT", 900))
	require.NoError(t, l.Reserve("bob", "ETH", 30))

	// settle a trade of 30 ETH at price 30 USDT/ETH
	require.NoError(t, l.Transfer("bob", "alice", "ETH", 30))
	require.NoError(t, l.Transfer("alice", "bob", "USDT", 900))

	assert.Equal(t, uint64(30), l.Balance("alice", "ETH").Available)
	assert.Equal(t, uint64(900), l.Balance("bob", "USDT").Available)
	assert.Equal(t, uint64(0), l.Balance("alice", "USDT").Reserved)
	assert.Equal(t, uint64(0), l.Balance("bob", "ETH").Reserved)

	usdtSupply := l.Balance("alice", "USDT").Total() + l.Balance("bob", "USDT").Total()
	ethSupply := l.Balance("alice", "ETH").Total() + l.Balance("bob", "ETH").Total()
	assert.Equal(t, uint64(1_000), usdtSupply)
	assert.Equal(t, uint64(50), ethSupply)

	assert.ErrorIs(t, l.Transfer("bob", "alice", "ETH", 1), ledgerv1.ErrInsufficientReserved)
}

// Test 4: State root is deterministic and insertion-order independent
func TestLedger_StateRoot(t *testing.T) {
	a := New()
	a.Deposit("alice", "USDT", 1_000)
	a.Deposit("bob", "ETH", 50)

	b := New()
	b.Deposit("bob", "ETH", 50)
	b.Deposit("alice", "USDT", 1_000)

	require.NotNil(t, a.StateRoot())
	assert.Equal(t, a.StateRoot(), b.StateRoot())
	assert.Equal(t, a.StateRoot(), a.StateRoot())
}

// Test 5: State root changes with balances and is nil when empty
func TestLedger_StateRoot_Changes(t *testing.T) {
	l := New()
	assert.Nil(t, l.StateRoot())

	l.Deposit("alice", "USDT", 1_000)
	before := l.StateRoot()

	l.Deposit("alice", "USDT", 1)
	assert.NotEqual(t, before, l.StateRoot())
}

// Test 6: Reserving does not move the state root, totals are committed
func TestLedger_StateRoot_ReserveNeutral(t *testing.T) {
	l := New()
	l.Deposit("alice", "USDT", 1_000)
	before := l.StateRoot()

	require.NoError(t, l.Reserve("alice", "USDT", 500))
	assert.Equal(t, before, l.StateRoot())
}
