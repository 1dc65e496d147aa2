package ledger

import (
	"encoding/binary"
	"sort"
	"sync"

	ledgerv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/ledger/v1"
	"golang.org/x/crypto/sha3"
)

// Ledger is an in-memory account ledger keyed by user then token. It is the
// single owner of balance state; all access goes through its lock.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]map[string]*ledgerv1.Balance // userID -> token -> balance
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts: make(map[string]map[string]*ledgerv1.Balance),
	}
}

func (l *Ledger) balance(userID, token string) *ledgerv1.Balance {
	tokens, ok := l.accounts[userID]
	if !ok {
		tokens = make(map[string]*ledgerv1.Balance)
		l.accounts[userID] = tokens
	}
	b, ok := tokens[token]
	if !ok {
		b = &ledgerv1.Balance{}
		tokens[token] = b
	}
	return b
}

// Deposit credits available funds.
func (l *Ledger) Deposit(userID, token string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance(userID, token).Available += amount
}

// Withdraw debits available funds, failing if the balance would go negative.
func (l *Ledger) Withdraw(userID, token string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balance(userID, token)
	if b.Available < amount {
		return ledgerv1.ErrInsufficientFunds
	}
	b.Available -= amount
	return nil
}

// Reserve locks available funds behind a resting order.
func (l *Ledger) Reserve(userID, token string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balance(userID, token)
	if b.Available < amount {
		return ledgerv1.ErrInsufficientFunds
	}
	b.Available -= amount
	b.Reserved += amount
	return nil
}

// Release returns reserved funds to the available balance.
func (l *Ledger) Release(userID, token string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balance(userID, token)
	if b.Reserved < amount {
		return ledgerv1.ErrInsufficientReserved
	}
	b.Reserved -= amount
	b.Available += amount
	return nil
}

// Transfer moves reserved funds of one user into another user's available
// balance. Both legs of a trade settle through two Transfer calls, so the sum
// of all balances is invariant.
func (l *Ledger) Transfer(fromUserID, toUserID, token string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.balance(fromUserID, token)
	if from.Reserved < amount {
		return ledgerv1.ErrInsufficientReserved
	}
	from.Reserved -= amount
	l.balance(toUserID, token).Available += amount
	return nil
}

// Balance returns a copy of the user's position for a token.
func (l *Ledger) Balance(userID, token string) ledgerv1.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if tokens, ok := l.accounts[userID]; ok {
		if b, ok := tokens[token]; ok {
			return *b
		}
	}
	return ledgerv1.Balance{}
}

// StateRoot builds a merkle root over all accounts. Each leaf is the SHA3-256
// of the user id followed by its token/total-balance pairs in token order;
// leaves are ordered by user id and an odd layer duplicates its last node.
// Returns nil when the ledger is empty.
func (l *Ledger) StateRoot() []byte {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.accounts) == 0 {
		return nil
	}

	userIDs := make([]string, 0, len(l.accounts))
	for userID := range l.accounts {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	leaves := make([][]byte, 0, len(userIDs))
	for _, userID := range userIDs {
		leaves = append(leaves, l.accountHash(userID))
	}

	for len(leaves) > 1 {
		if len(leaves)%2 == 1 {
			leaves = append(leaves, leaves[len(leaves)-1])
		}
		next := make([][]byte, 0, len(leaves)/2)
		for i := 0; i < len(leaves); i += 2 {
			h := sha3.New256()
			h.Write(leaves[i])
			h.Write(leaves[i+1])
			next = append(next, h.Sum(nil))
		}
		leaves = next
	}
	return leaves[0]
}

func (l *Ledger) accountHash(userID string) []byte {
	tokens := l.accounts[userID]

	names := make([]string, 0, len(tokens))
	for token := range tokens {
		names = append(names, token)
	}
	sort.Strings(names)

	h := sha3.New256()
	h.Write([]byte(userID))
	var buf [8]byte
	for _, token := range names {
		h.Write([]byte(token))
		binary.LittleEndian.PutUint64(buf[:], tokens[token].Total())
		h.Write(buf[:])
	}
	return h.Sum(nil)
}
