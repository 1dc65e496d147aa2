package tradequeue

import (
	"sync"

	orderv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/order/v1"
)

// Queue is the append-only trade sequence shared across pairs. The matching
// engine is its only writer; the block builder its only drainer. Append and
// drain are mutually exclusive so a drain never observes a partially appended
// match and no trade lands in the wrong block.
type Queue struct {
	mu      sync.Mutex
	pending []orderv1.Trade
	history []orderv1.Trade
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Append adds trades in match order.
func (q *Queue) Append(trades ...orderv1.Trade) {
	if len(trades) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, trades...)
	q.history = append(q.history, trades...)
}

// Len returns the number of undrained trades.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DrainAll atomically removes and returns the entire pending contents. A
// burst larger than the flush threshold therefore produces one oversized
// block rather than being clamped.
func (q *Queue) DrainAll() []orderv1.Trade {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	drained := q.pending
	q.pending = nil
	return drained
}

// Unshift restores drained trades to the front of the queue, preserving their
// original order ahead of anything appended since the drain. Used when block
// persistence fails so no trade is ever lost.
func (q *Queue) Unshift(trades []orderv1.Trade) {
	if len(trades) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(append([]orderv1.Trade{}, trades...), q.pending...)
}

// History returns a snapshot of every trade ever appended, in match order.
func (q *Queue) History() []orderv1.Trade {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]orderv1.Trade, len(q.history))
	copy(out, q.history)
	return out
}
