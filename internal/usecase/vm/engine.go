package vm

import (
	"context"

	vmv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/vm/v1"
	"golang.org/x/crypto/sha3"
)

// Engine is a deterministic in-process stand-in for the external VM: the new
// state root is the SHA3-256 chain of the prior root and each transaction's
// raw bytes. Full VM execution semantics live outside this repository.
type Engine struct{}

// NewEngine creates the engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Apply folds the transactions into the prior root.
func (e *Engine) Apply(ctx context.Context, txns []vmv1.Transaction, priorRoot []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := priorRoot
	for _, txn := range txns {
		h := sha3.New256()
		h.Write(root)
		h.Write(txn.Raw)
		root = h.Sum(nil)
	}
	return root, nil
}
