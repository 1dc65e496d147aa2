package builder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	blockv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/block/v1"
	orderv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/order/v1"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/ledger"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/tradequeue"
	"github.com/anylots/zkvm-clob-exchange/pkg/config"
	"github.com/anylots/zkvm-clob-exchange/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore is an in-memory block store with injectable write failures and
// an optional gate that parks Put until released.
type testStore struct {
	mu       sync.Mutex
	blocks   map[uint64]*blockv1.Block
	latest   uint64
	failPuts int
	gate     chan struct{}
	entered  chan struct{}
}

func newTestStore() *testStore {
	return &testStore{blocks: make(map[uint64]*blockv1.Block)}
}

func (s *testStore) Put(block *blockv1.Block) error {
	if s.gate != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPuts > 0 {
		s.failPuts--
		return fmt.Errorf("disk unavailable")
	}
	s.blocks[block.Number] = block
	s.latest = block.Number
	return nil
}

func (s *testStore) Get(number uint64) (*blockv1.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.blocks[number]
	if !ok {
		return nil, blockv1.ErrBlockNotFound
	}
	return block, nil
}

func (s *testStore) Range(start, end uint64) ([]*blockv1.Block, error) {
	var out []*blockv1.Block
	for n := start; n <= end; n++ {
		if block, err := s.Get(n); err == nil {
			out = append(out, block)
		}
	}
	return out, nil
}

func (s *testStore) LatestBlockNum() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *testStore) Close() error { return nil }

func testConfig() config.BlockConfig {
	return config.BlockConfig{
		MaxTxns:         100,
		Interval:        10 * time.Second,
		PollInterval:    5 * time.Millisecond,
		CheckpointRatio: 10,
	}
}

func newTestBuilder(t *testing.T, store blockv1.Store, cfg config.BlockConfig) (*Builder, *ledger.Ledger, *tradequeue.Queue) {
	t.Helper()

	log, err := logger.NewLogger()
	require.NoError(t, err)

	lgr := ledger.New()
	queue := tradequeue.New()
	return New(queue, store, lgr, nil, log, cfg), lgr, queue
}

// fundedTrade builds a trade together with the ledger reservations that back
// its settlement, the same state order placement would have produced.
func fundedTrade(t *testing.T, lgr *ledger.Ledger, i int, qty, price, buyPrice uint64) orderv1.Trade {
	t.Helper()

	lgr.Deposit("alice", "USDT", qty*buyPrice)
	require.NoError(t, lgr.Reserve("alice", "USDT", qty*buyPrice))
	lgr.Deposit("bob", "ETH", qty)
	require.NoError(t, lgr.Reserve("bob", "ETH", qty))

	return orderv1.Trade{
		BuyOrderID:  fmt.Sprintf("buy-%d", i),
		SellOrderID: fmt.Sprintf("sell-%d", i),
		Pair:        "ETH_USDT",
		Price:       price,
		Quantity:    qty,
		Timestamp:   time.Now().UnixNano(),
		BuyUserID:   "alice",
		SellUserID:  "bob",
		BuyPrice:    buyPrice,
	}
}

// Test 1: Reaching the size threshold seals the entire queue into one block
func TestBuilder_SizeTrigger(t *testing.T) {
	store := newTestStore()
	b, lgr, queue := newTestBuilder(t, store, testConfig())

	for i := 0; i < 99; i++ {
		queue.Append(fundedTrade(t, lgr, i, 1, 100, 100))
	}
	assert.False(t, b.shouldFlush())

	queue.Append(fundedTrade(t, lgr, 99, 1, 100, 100))
	require.True(t, b.shouldFlush())

	block, err := b.Flush(context.Background())
	require.NoError(t, err)
	require.NotNil(t, block)

	assert.Equal(t, uint64(1), block.Number)
	assert.Equal(t, 100, len(block.Trades))
	assert.Equal(t, 0, queue.Len())
	assert.Equal(t, uint64(1), b.LatestBlockNum())
	assert.Equal(t, blockv1.ComputeTxnsRoot(block.Trades), block.TxnsRoot)

	stored, err := store.Get(1)
	require.NoError(t, err)
	assert.Equal(t, block.TxnsRoot, stored.TxnsRoot)
}

// Test 2: The time trigger flushes a short queue, and block numbers stay
// contiguous
func TestBuilder_TimeTrigger(t *testing.T) {
	store := newTestStore()
	cfg := testConfig()
	b, lgr, queue := newTestBuilder(t, store, cfg)

	for i := 0; i < 100; i++ {
		queue.Append(fundedTrade(t, lgr, i, 1, 100, 100))
	}
	_, err := b.Flush(context.Background())
	require.NoError(t, err)

	for i := 100; i < 150; i++ {
		queue.Append(fundedTrade(t, lgr, i, 1, 100, 100))
	}
	assert.False(t, b.shouldFlush())

	b.mu.Lock()
	b.lastFlush = time.Now().Add(-cfg.Interval)
	b.mu.Unlock()
	require.True(t, b.shouldFlush())

	block, err := b.Flush(context.Background())
	require.NoError(t, err)
	require.NotNil(t, block)

	assert.Equal(t, uint64(2), block.Number)
	assert.Equal(t, 50, len(block.Trades))
	assert.Equal(t, uint64(2), b.LatestBlockNum())
}

// Test 3: An empty queue never flushes, even after the interval
func TestBuilder_EmptyQueue(t *testing.T) {
	store := newTestStore()
	cfg := testConfig()
	b, _, _ := newTestBuilder(t, store, cfg)

	b.mu.Lock()
	b.lastFlush = time.Now().Add(-2 * cfg.Interval)
	b.mu.Unlock()
	assert.False(t, b.shouldFlush())

	block, err := b.Flush(context.Background())
	require.NoError(t, err)
	assert.Nil(t, block)
	assert.Equal(t, uint64(0), b.LatestBlockNum())
}

// Test 4: Settlement moves both legs and releases the buy-side surplus
func TestBuilder_Settlement(t *testing.T) {
	store := newTestStore()
	b, lgr, queue := newTestBuilder(t, store, testConfig())

	// buy limit 120, executed at maker price 100, quantity 10
	queue.Append(fundedTrade(t, lgr, 0, 10, 100, 120))

	b.mu.Lock()
	b.lastFlush = time.Now().Add(-testConfig().Interval)
	b.mu.Unlock()

	block, err := b.Flush(context.Background())
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.NotNil(t, block.StateRoot)

	assert.Equal(t, uint64(10), lgr.Balance("alice", "ETH").Available)
	assert.Equal(t, uint64(1_000), lgr.Balance("bob", "USDT").Available)

	// 10 * (120 - 100) surplus returns to the buyer
	aliceUSDT := lgr.Balance("alice", "USDT")
	assert.Equal(t, uint64(200), aliceUSDT.Available)
	assert.Equal(t, uint64(0), aliceUSDT.Reserved)
	assert.Equal(t, uint64(0), lgr.Balance("bob", "ETH").Reserved)
}

// Test 5: A failed write keeps the sealed block, retries it on the next
// trigger and settles its trades exactly once
func TestBuilder_PersistenceFailure(t *testing.T) {
	store := newTestStore()
	store.failPuts = maxPutAttempts
	b, lgr, queue := newTestBuilder(t, store, testConfig())

	queue.Append(fundedTrade(t, lgr, 0, 10, 100, 120))

	b.mu.Lock()
	b.lastFlush = time.Now().Add(-testConfig().Interval)
	b.mu.Unlock()

	_, err := b.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(0), b.LatestBlockNum())
	assert.Equal(t, 1, b.consecutiveFailures())
	require.True(t, b.shouldFlush()) // sealed block pending

	block, err := b.Flush(context.Background())
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, uint64(1), block.Number)
	assert.Equal(t, 1, len(block.Trades))
	assert.Equal(t, uint64(1), b.LatestBlockNum())
	assert.Equal(t, 0, b.consecutiveFailures())

	// settled once, not twice
	assert.Equal(t, uint64(200), lgr.Balance("alice", "USDT").Available)
	assert.Equal(t, uint64(10), lgr.Balance("alice", "ETH").Available)
}

// Test 6: Trades appended during a failed write land behind the sealed block
func TestBuilder_FailureOrdering(t *testing.T) {
	store := newTestStore()
	store.failPuts = maxPutAttempts
	b, lgr, queue := newTestBuilder(t, store, testConfig())

	first := fundedTrade(t, lgr, 0, 1, 100, 100)
	queue.Append(first)

	b.mu.Lock()
	b.lastFlush = time.Now().Add(-testConfig().Interval)
	b.mu.Unlock()

	_, err := b.Flush(context.Background())
	require.Error(t, err)

	second := fundedTrade(t, lgr, 1, 2, 100, 100)
	queue.Append(second)

	block1, err := b.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), block1.Number)
	assert.Equal(t, first.BuyOrderID, block1.Trades[0].BuyOrderID)

	b.mu.Lock()
	b.lastFlush = time.Now().Add(-testConfig().Interval)
	b.mu.Unlock()

	block2, err := b.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), block2.Number)
	assert.Equal(t, second.BuyOrderID, block2.Trades[0].BuyOrderID)
}

// Test 7: The background loop produces blocks and feeds the block channel
func TestBuilder_Run(t *testing.T) {
	store := newTestStore()
	cfg := testConfig()
	cfg.Interval = 30 * time.Millisecond
	b, lgr, queue := newTestBuilder(t, store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))

	queue.Append(fundedTrade(t, lgr, 0, 1, 100, 100))

	select {
	case block := <-b.Blocks():
		assert.Equal(t, uint64(1), block.Number)
	case <-time.After(2 * time.Second):
		t.Fatal("no block produced")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, b.Stop(stopCtx))
}

// Test 8: Queries stay responsive while a flush is parked in the storage
// write
func TestBuilder_QueryDuringSlowWrite(t *testing.T) {
	store := newTestStore()
	store.gate = make(chan struct{})
	store.entered = make(chan struct{}, 1)
	b, lgr, queue := newTestBuilder(t, store, testConfig())

	queue.Append(fundedTrade(t, lgr, 0, 1, 100, 100))

	flushed := make(chan error, 1)
	go func() {
		_, err := b.Flush(context.Background())
		flushed <- err
	}()
	<-store.entered // the write is now in flight

	latest := make(chan uint64, 1)
	go func() { latest <- b.LatestBlockNum() }()
	select {
	case n := <-latest:
		assert.Equal(t, uint64(0), n)
	case <-time.After(time.Second):
		t.Fatal("LatestBlockNum blocked behind an in-flight write")
	}

	close(store.gate)
	require.NoError(t, <-flushed)
	assert.Equal(t, uint64(1), b.LatestBlockNum())
}

// Test 9: Flushes complete and blocks arrive in production order even when
// the block consumer lags behind
func TestBuilder_BlockHandoffOrder(t *testing.T) {
	store := newTestStore()
	cfg := testConfig()
	b, lgr, queue := newTestBuilder(t, store, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))

	// nobody reads Blocks() while these flushes run
	for i := 1; i <= 3; i++ {
		queue.Append(fundedTrade(t, lgr, i, 1, 100, 100))
		b.mu.Lock()
		b.lastFlush = time.Now().Add(-cfg.Interval)
		b.mu.Unlock()
		_, err := b.Flush(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, uint64(3), b.LatestBlockNum())

	for n := uint64(1); n <= 3; n++ {
		select {
		case block := <-b.Blocks():
			assert.Equal(t, n, block.Number)
		case <-time.After(2 * time.Second):
			t.Fatalf("block %d never delivered", n)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, b.Stop(stopCtx))
}

// Test 10: The builder resumes numbering from the store after a restart
func TestBuilder_Resume(t *testing.T) {
	store := newTestStore()
	b, lgr, queue := newTestBuilder(t, store, testConfig())

	for i := 0; i < 100; i++ {
		queue.Append(fundedTrade(t, lgr, i, 1, 100, 100))
	}
	_, err := b.Flush(context.Background())
	require.NoError(t, err)

	restarted, lgr2, queue2 := newTestBuilder(t, store, testConfig())
	assert.Equal(t, uint64(1), restarted.LatestBlockNum())

	for i := 0; i < 100; i++ {
		queue2.Append(fundedTrade(t, lgr2, i, 1, 100, 100))
	}
	block, err := restarted.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), block.Number)
}
