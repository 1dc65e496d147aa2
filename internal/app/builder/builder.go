package builder

import (
	"context"
	"fmt"
	"sync"
	"time"

	blockv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/block/v1"
	ledgerv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/ledger/v1"
	orderv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/order/v1"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/tradequeue"
	"github.com/anylots/zkvm-clob-exchange/pkg/config"
	"github.com/anylots/zkvm-clob-exchange/pkg/errors"
	"github.com/anylots/zkvm-clob-exchange/pkg/logger"
)

// maxPutAttempts bounds the in-flush retries of a failed block write. The
// sealed block is kept and retried on the next trigger, so trades are never
// lost; after maxConsecutiveFailures whole flushes fail, the pipeline halts
// rather than risk its history.
const (
	maxPutAttempts         = 3
	maxConsecutiveFailures = 5
)

// Builder drains the trade queue into hash-committed, durably persisted
// blocks. A flush fires when the queue reaches the size threshold or when the
// configured interval has elapsed since the last successful flush, whichever
// comes first, and always drains the entire queue.
type Builder struct {
	queue     *tradequeue.Queue
	store     blockv1.Store
	ledger    ledgerv1.Ledger
	publisher blockv1.Publisher // optional
	logger    logger.Interface

	maxTxns  int
	interval time.Duration
	poll     time.Duration

	// flushMu serializes whole flushes. mu guards only the counter fields
	// so queries never wait behind an in-flight storage write.
	flushMu   sync.Mutex
	mu        sync.Mutex
	latest    uint64
	lastFlush time.Time
	// sealed holds a block whose persistence failed; it is retried before
	// any new block is built so numbering and trade order stay intact.
	sealed   *blockv1.Block
	failures int

	// produced is fed from an unbounded backlog by a dispatch goroutine,
	// so a stalled checkpoint lane never backs the flush path up.
	backlogMu sync.Mutex
	backlog   []*blockv1.Block
	notify    chan struct{}
	produced  chan *blockv1.Block

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a builder resuming from the store's latest block number.
func New(
	queue *tradequeue.Queue,
	store blockv1.Store,
	ledger ledgerv1.Ledger,
	publisher blockv1.Publisher,
	log logger.Interface,
	cfg config.BlockConfig,
) *Builder {
	return &Builder{
		queue:     queue,
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		logger:    log,
		maxTxns:   cfg.MaxTxns,
		interval:  cfg.Interval,
		poll:      cfg.PollInterval,
		latest:    store.LatestBlockNum(),
		lastFlush: time.Now(),
		notify:    make(chan struct{}, 1),
		produced:  make(chan *blockv1.Block),
	}
}

// Blocks exposes every produced block, in order, to the scheduler.
func (b *Builder) Blocks() <-chan *blockv1.Block {
	return b.produced
}

// Start launches the monitoring loop.
func (b *Builder) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(2)
	go b.run(ctx)
	go b.dispatch(ctx)

	b.logger.Info("block builder started",
		logger.Field{Key: "latestBlock", Value: b.LatestBlockNum()},
		logger.Field{Key: "maxTxns", Value: b.maxTxns},
		logger.Field{Key: "interval", Value: b.interval.String()},
	)
	return nil
}

// Stop shuts the monitoring loop down, waiting up to the context deadline.
func (b *Builder) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("block builder stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("block builder stop timeout exceeded")
		return ctx.Err()
	}
}

func (b *Builder) run(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.shouldFlush() {
				continue
			}
			if _, err := b.Flush(ctx); err != nil {
				b.logger.Error(err, logger.Field{Key: "action", Value: "flush"})
				if b.consecutiveFailures() >= maxConsecutiveFailures {
					b.logger.Error(errors.NewTracer("block pipeline halted: persistent storage failure"),
						logger.Field{Key: "failures", Value: b.consecutiveFailures()},
					)
					return
				}
			}
		}
	}
}

// shouldFlush checks the size/time race. Time is measured from the previous
// successful flush, so clock adjustments cannot skew the trigger.
func (b *Builder) shouldFlush() bool {
	b.mu.Lock()
	retryPending := b.sealed != nil
	elapsed := time.Since(b.lastFlush)
	b.mu.Unlock()

	if retryPending {
		return true
	}
	queued := b.queue.Len()
	if queued == 0 {
		return false
	}
	return queued >= b.maxTxns || elapsed >= b.interval
}

// Flush seals the entire current queue into the next block and persists it.
// Persistence success strictly precedes advancement of the latest counter,
// and no lock is held across the storage write or the scheduler handoff, so
// queries stay responsive during slow I/O. Returns (nil, nil) when there is
// nothing to do.
func (b *Builder) Flush(ctx context.Context) (*blockv1.Block, error) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	block := b.sealed
	nextNumber := b.latest + 1
	b.mu.Unlock()

	if block == nil {
		trades := b.queue.DrainAll()
		if len(trades) == 0 {
			return nil, nil
		}

		b.settle(trades)

		block = &blockv1.Block{
			Number:    nextNumber,
			Trades:    trades,
			TxnsRoot:  blockv1.ComputeTxnsRoot(trades),
			StateRoot: b.ledger.StateRoot(),
			CreatedAt: time.Now().UnixNano(),
		}
	}

	var putErr error
	for attempt := 1; attempt <= maxPutAttempts; attempt++ {
		if putErr = b.store.Put(block); putErr == nil {
			break
		}
		b.logger.Warn("block write failed",
			logger.Field{Key: "blockNumber", Value: block.Number},
			logger.Field{Key: "attempt", Value: attempt},
			logger.Field{Key: "error", Value: putErr.Error()},
		)
	}
	if putErr != nil {
		// keep the sealed block for the next trigger; its trades are
		// settled and must be written exactly once
		b.mu.Lock()
		b.sealed = block
		b.failures++
		b.mu.Unlock()
		return nil, errors.NewTracer("persistence failure").Wrap(putErr)
	}

	b.mu.Lock()
	b.sealed = nil
	b.failures = 0
	b.latest = block.Number
	b.lastFlush = time.Now()
	b.mu.Unlock()

	b.logger.Info("block produced",
		logger.Field{Key: "blockNumber", Value: block.Number},
		logger.Field{Key: "trades", Value: len(block.Trades)},
		logger.Field{Key: "txnsRoot", Value: fmt.Sprintf("%x", block.TxnsRoot)},
	)

	if b.publisher != nil {
		if err := b.publisher.PublishBlock(ctx, block); err != nil {
			b.logger.Warn("block publish failed",
				logger.Field{Key: "blockNumber", Value: block.Number},
			)
		}
	}

	b.enqueueProduced(block)
	return block, nil
}

// enqueueProduced hands a block off for delivery without ever blocking the
// flush path.
func (b *Builder) enqueueProduced(block *blockv1.Block) {
	b.backlogMu.Lock()
	b.backlog = append(b.backlog, block)
	b.backlogMu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// dispatch drains the backlog into the Blocks channel in production order.
func (b *Builder) dispatch(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		}

		for {
			b.backlogMu.Lock()
			if len(b.backlog) == 0 {
				b.backlogMu.Unlock()
				break
			}
			block := b.backlog[0]
			b.backlog = b.backlog[1:]
			b.backlogMu.Unlock()

			select {
			case b.produced <- block:
			case <-ctx.Done():
				return
			}
		}
	}
}

// settle moves funds for each trade: base from seller to buyer, quote from
// buyer to seller, plus the release of the buyer's reservation surplus when
// the execution price beat the buy limit. A failure here means matching and
// reservation disagree, which is a core bug, so it fails loudly.
func (b *Builder) settle(trades []orderv1.Trade) {
	for i := range trades {
		t := &trades[i]
		base, quote, err := orderv1.SplitPair(t.Pair)
		if err != nil {
			panic(fmt.Sprintf("trade with malformed pair %q reached settlement", t.Pair))
		}

		if err := b.ledger.Transfer(t.SellUserID, t.BuyUserID, base, t.Quantity); err != nil {
			panic(fmt.Sprintf("settle base leg of %s/%s: %v", t.BuyOrderID, t.SellOrderID, err))
		}
		if err := b.ledger.Transfer(t.BuyUserID, t.SellUserID, quote, t.QuoteAmount()); err != nil {
			panic(fmt.Sprintf("settle quote leg of %s/%s: %v", t.BuyOrderID, t.SellOrderID, err))
		}
		if surplus := t.Quantity * (t.BuyPrice - t.Price); surplus > 0 {
			if err := b.ledger.Release(t.BuyUserID, quote, surplus); err != nil {
				panic(fmt.Sprintf("release surplus of %s: %v", t.BuyOrderID, err))
			}
		}
	}
}

func (b *Builder) consecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LatestBlockNum returns the number of the latest durably persisted block.
func (b *Builder) LatestBlockNum() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// GetBlock returns a persisted block by number.
func (b *Builder) GetBlock(number uint64) (*blockv1.Block, error) {
	return b.store.Get(number)
}

// GetBlocksRange returns the persisted blocks with numbers in [start, end].
func (b *Builder) GetBlocksRange(start, end uint64) ([]*blockv1.Block, error) {
	return b.store.Range(start, end)
}
