package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	blockv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/block/v1"
	vmv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/vm/v1"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/vmpool"
	"github.com/anylots/zkvm-clob-exchange/pkg/logger"
)

// State names what the scheduler is doing right now.
type State string

const (
	StateIdle                   State = "idle"
	StateProducingExchangeBlock State = "producing_exchange_block"
	StateProducingCheckpoint    State = "producing_checkpoint"
)

// Scheduler interleaves the two execution lanes. It counts the blocks the
// builder produces and, every checkpointRatio of them, assembles a checkpoint
// covering that block range plus the VM transactions pending at that moment.
// VM execution and proof submission run on a separate worker so the exchange
// lane is never held back by them.
type Scheduler struct {
	blocks <-chan *blockv1.Block
	pool   *vmpool.Pool
	engine vmv1.Engine
	prover vmv1.Prover
	logger logger.Interface

	checkpointRatio int

	state atomic.Value // State
	count int

	checkpoints chan *vmv1.Checkpoint

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler fed by the given block channel.
func New(
	blocks <-chan *blockv1.Block,
	pool *vmpool.Pool,
	engine vmv1.Engine,
	prover vmv1.Prover,
	log logger.Interface,
	checkpointRatio int,
) *Scheduler {
	s := &Scheduler{
		blocks:          blocks,
		pool:            pool,
		engine:          engine,
		prover:          prover,
		logger:          log,
		checkpointRatio: checkpointRatio,
		checkpoints:     make(chan *vmv1.Checkpoint, 16),
	}
	s.state.Store(StateIdle)
	return s
}

// State returns the scheduler's current state.
func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

// Start launches the block consumer and the checkpoint worker.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.consume(ctx)
	go s.work(ctx)

	s.logger.Info("scheduler started",
		logger.Field{Key: "checkpointRatio", Value: s.checkpointRatio},
	)
	return nil
}

// Stop shuts both goroutines down, waiting up to the context deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timeout exceeded")
		return ctx.Err()
	}
}

func (s *Scheduler) consume(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-s.blocks:
			if !ok {
				return
			}
			s.handleBlock(ctx, block)
		}
	}
}

// handleBlock advances the block counter and, on the checkpoint boundary,
// assembles the next checkpoint. The counter resets immediately so the next
// window opens regardless of how long proving takes.
func (s *Scheduler) handleBlock(ctx context.Context, block *blockv1.Block) {
	s.state.Store(StateProducingExchangeBlock)
	defer s.state.Store(StateIdle)

	s.count++
	if s.count < s.checkpointRatio {
		return
	}

	s.state.Store(StateProducingCheckpoint)
	checkpoint := &vmv1.Checkpoint{
		FromBlock: block.Number - uint64(s.count) + 1,
		ToBlock:   block.Number,
		Txns:      s.pool.DrainAll(),
	}
	s.count = 0

	s.logger.Info("checkpoint assembled",
		logger.Field{Key: "fromBlock", Value: checkpoint.FromBlock},
		logger.Field{Key: "toBlock", Value: checkpoint.ToBlock},
		logger.Field{Key: "txns", Value: len(checkpoint.Txns)},
	)

	select {
	case s.checkpoints <- checkpoint:
	case <-ctx.Done():
	}
}

// work executes checkpoints in order. The VM root chains from one checkpoint
// to the next; an execution failure is reported and the failed checkpoint is
// skipped without advancing the root.
func (s *Scheduler) work(ctx context.Context) {
	defer s.wg.Done()

	var root []byte
	for {
		select {
		case <-ctx.Done():
			return
		case checkpoint := <-s.checkpoints:
			checkpoint.PriorRoot = root

			newRoot, err := s.engine.Apply(ctx, checkpoint.Txns, root)
			if err != nil {
				s.logger.Error(err,
					logger.Field{Key: "action", Value: "vm apply"},
					logger.Field{Key: "fromBlock", Value: checkpoint.FromBlock},
					logger.Field{Key: "toBlock", Value: checkpoint.ToBlock},
				)
				continue
			}
			checkpoint.StateRoot = newRoot
			root = newRoot

			if _, err := s.prover.Submit(ctx, checkpoint); err != nil {
				s.logger.Error(err,
					logger.Field{Key: "action", Value: "proof submit"},
					logger.Field{Key: "fromBlock", Value: checkpoint.FromBlock},
					logger.Field{Key: "toBlock", Value: checkpoint.ToBlock},
				)
			}
		}
	}
}
