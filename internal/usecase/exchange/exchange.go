package exchange

import (
	"sync"

	ledgerv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/ledger/v1"
	orderv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/order/v1"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/orderbook"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/tradequeue"
	"github.com/anylots/zkvm-clob-exchange/pkg/logger"
)

// Exchange is the write entry point for the exchange lane. It owns one book
// per trading pair (created lazily) and reserves funds before any book
// mutation. Each book appends its trades to the shared queue inside its own
// exclusive section, so queue order is match order. Books of independent
// pairs do not contend.
type Exchange struct {
	mu     sync.RWMutex
	books  map[string]*orderbook.Book
	ledger ledgerv1.Ledger
	queue  *tradequeue.Queue
	logger logger.Interface
}

// New wires an exchange over the given ledger and trade queue.
func New(ledger ledgerv1.Ledger, queue *tradequeue.Queue, log logger.Interface) *Exchange {
	return &Exchange{
		books:  make(map[string]*orderbook.Book),
		ledger: ledger,
		queue:  queue,
		logger: log,
	}
}

// book returns the pair's book, creating it on first reference.
func (e *Exchange) book(pair string) *orderbook.Book {
	e.mu.RLock()
	b, ok := e.books[pair]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[pair]; !ok {
		b = orderbook.NewBook(pair, e.queue)
		e.books[pair] = b
	}
	return b
}

func (e *Exchange) lookupBook(pair string) (*orderbook.Book, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[pair]
	return b, ok
}

// PlaceOrder validates the request, reserves the order's worst-case cost and
// runs the matching pass. No state is mutated when validation or the
// reservation fails.
func (e *Exchange) PlaceOrder(userID, pair string, amount, price uint64, side orderv1.Side) (*orderv1.Order, []orderv1.Trade, error) {
	if amount == 0 || price == 0 {
		return nil, nil, orderv1.ErrInvalidOrder
	}
	base, quote, err := orderv1.SplitPair(pair)
	if err != nil {
		return nil, nil, err
	}

	order := orderv1.NewOrder(userID, pair, amount, price, side)

	// Buys lock the full quote cost, sells the base amount.
	reserveToken, reserveAmount := base, amount
	if side == orderv1.SideBuy {
		cost, err := order.Cost()
		if err != nil {
			return nil, nil, err
		}
		reserveToken, reserveAmount = quote, cost
	}
	if err := e.ledger.Reserve(userID, reserveToken, reserveAmount); err != nil {
		e.logger.Warn("order rejected: reservation failed",
			logger.Field{Key: "userID", Value: userID},
			logger.Field{Key: "pair", Value: pair},
			logger.Field{Key: "token", Value: reserveToken},
			logger.Field{Key: "required", Value: reserveAmount},
		)
		return nil, nil, orderv1.ErrInsufficientBalance
	}

	trades, err := e.book(pair).Place(order)
	if err != nil {
		// the book rejected the order wholesale, undo the reservation
		if relErr := e.ledger.Release(userID, reserveToken, reserveAmount); relErr != nil {
			e.logger.Error(relErr, logger.Field{Key: "orderID", Value: order.ID})
		}
		return nil, nil, err
	}

	e.logger.Info("order placed",
		logger.Field{Key: "orderID", Value: order.ID},
		logger.Field{Key: "pair", Value: pair},
		logger.Field{Key: "side", Value: side},
		logger.Field{Key: "amount", Value: amount},
		logger.Field{Key: "price", Value: price},
		logger.Field{Key: "trades", Value: len(trades)},
		logger.Field{Key: "status", Value: order.Status},
	)

	snapshot := *order
	return &snapshot, trades, nil
}

// CancelOrder removes a live order and releases the reservation backing its
// unfilled remainder. Already-filled quantity stays settled.
func (e *Exchange) CancelOrder(pair, orderID string) (*orderv1.Order, error) {
	base, quote, err := orderv1.SplitPair(pair)
	if err != nil {
		return nil, err
	}
	book, ok := e.lookupBook(pair)
	if !ok {
		return nil, orderv1.ErrOrderNotFound
	}

	cancelled, err := book.Cancel(orderID)
	if err != nil {
		return nil, err
	}

	releaseToken, releaseAmount := base, cancelled.Remaining()
	if cancelled.Side == orderv1.SideBuy {
		releaseToken, releaseAmount = quote, cancelled.Remaining()*cancelled.Price
	}
	if releaseAmount > 0 {
		if err := e.ledger.Release(cancelled.UserID, releaseToken, releaseAmount); err != nil {
			e.logger.Error(err, logger.Field{Key: "orderID", Value: orderID})
			return nil, err
		}
	}

	e.logger.Info("order cancelled",
		logger.Field{Key: "orderID", Value: orderID},
		logger.Field{Key: "pair", Value: pair},
		logger.Field{Key: "remaining", Value: cancelled.Remaining()},
	)

	snapshot := *cancelled
	return &snapshot, nil
}

// GetOrder returns an order snapshot, terminal orders included.
func (e *Exchange) GetOrder(pair, orderID string) (*orderv1.Order, error) {
	book, ok := e.lookupBook(pair)
	if !ok {
		return nil, orderv1.ErrOrderNotFound
	}
	return book.Get(orderID)
}

// BestBidAsk returns the best resting prices of a pair's book.
func (e *Exchange) BestBidAsk(pair string) (bid, ask uint64, hasBid, hasAsk bool, err error) {
	if _, _, err := orderv1.SplitPair(pair); err != nil {
		return 0, 0, false, false, err
	}
	book, ok := e.lookupBook(pair)
	if !ok {
		return 0, 0, false, false, nil
	}
	bid, ask, hasBid, hasAsk = book.BestBidAsk()
	return bid, ask, hasBid, hasAsk, nil
}

// Trades returns the full trade history in match order.
func (e *Exchange) Trades() []orderv1.Trade {
	return e.queue.History()
}
