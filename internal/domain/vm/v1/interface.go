package vmv1

import (
	"context"
	"errors"
)

// ErrExecution is returned when the VM engine fails to apply a checkpoint's
// transactions. It is reported upward but never halts the exchange lane.
var ErrExecution = errors.New("vm execution error")

// Transaction is an opaque VM-lane transaction as submitted by users.
type Transaction struct {
	Raw  []byte `json:"raw"`
	Hash string `json:"hash"`
}

// Checkpoint covers a contiguous range of exchange blocks together with the
// VM-lane transactions pending at assembly time. It is handed off exactly once
// to the proof subsystem; completion is observed out of band.
type Checkpoint struct {
	FromBlock uint64        `json:"fromBlock"`
	ToBlock   uint64        `json:"toBlock"`
	Txns      []Transaction `json:"txns"`
	PriorRoot []byte        `json:"priorRoot"`
	StateRoot []byte        `json:"stateRoot,omitempty"`
	ProofRef  string        `json:"proofRef,omitempty"`
}

// Engine is the black-box state transition function of the VM lane.
type Engine interface {
	Apply(ctx context.Context, txns []Transaction, priorRoot []byte) (newRoot []byte, err error)
}

// Prover accepts a completed checkpoint for asynchronous proof generation and
// returns a handle the caller can reconcile against later.
type Prover interface {
	Submit(ctx context.Context, checkpoint *Checkpoint) (handle string, err error)
}
