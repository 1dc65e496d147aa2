package vmpool

import (
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	vmv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/vm/v1"
	"golang.org/x/crypto/sha3"
)

// ErrInvalidTransaction is returned for malformed raw transaction payloads.
var ErrInvalidTransaction = errors.New("invalid vm transaction")

// Pool is the mempool of the low-frequency VM lane. Transactions accumulate
// here between checkpoints and are drained wholesale when one is assembled.
type Pool struct {
	mu   sync.Mutex
	txns []vmv1.Transaction
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{}
}

// Add decodes a hex-encoded raw transaction and queues it. Returns the
// transaction hash.
func (p *Pool) Add(rawHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(rawHex, "0x"))
	if err != nil || len(raw) == 0 {
		return "", ErrInvalidTransaction
	}

	sum := sha3.Sum256(raw)
	txn := vmv1.Transaction{
		Raw:  raw,
		Hash: "0x" + hex.EncodeToString(sum[:]),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.txns = append(p.txns, txn)
	return txn.Hash, nil
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txns)
}

// DrainAll atomically removes and returns all pending transactions.
func (p *Pool) DrainAll() []vmv1.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	drained := p.txns
	p.txns = nil
	return drained
}
