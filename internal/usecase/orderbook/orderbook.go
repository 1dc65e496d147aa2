package orderbook

import (
	"fmt"
	"sort"
	"sync"
	"time"

	orderv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/order/v1"
)

// limit is a single price level holding resting orders in arrival order.
type limit struct {
	price  uint64
	orders []*orderv1.Order
}

func (l *limit) volume() uint64 {
	var total uint64
	for _, o := range l.orders {
		total += o.Remaining()
	}
	return total
}

// TradeSink receives trades in the exact order their matches were computed.
type TradeSink interface {
	Append(trades ...orderv1.Trade)
}

// Book is the order book for one trading pair. Bids are kept best-first
// (price descending), asks best-first (price ascending); within a level,
// earlier arrival wins, so price-time priority is total. A single lock
// serializes place, cancel and match, which keeps the no-crossed-book
// invariant from ever being observable mid-mutation and serializes a cancel
// against a concurrent fill of the same order. Trades are handed to the sink
// inside that same lock, so their queue order is the match order even across
// concurrent placements.
type Book struct {
	mu     sync.RWMutex
	pair   string
	sink   TradeSink
	bids   []*limit
	asks   []*limit
	orders map[string]*orderv1.Order // all orders ever placed, terminal included
}

// NewBook creates an empty book for the given pair. The sink may be nil.
func NewBook(pair string, sink TradeSink) *Book {
	return &Book{
		pair:   pair,
		sink:   sink,
		orders: make(map[string]*orderv1.Order),
	}
}

// Pair returns the trading pair this book serves.
func (b *Book) Pair() string {
	return b.pair
}

// Place matches the incoming order against the opposite side and rests any
// unfilled remainder at its price-time slot. Returned trades are in match
// order, which is the canonical order for block construction.
func (b *Book) Place(order *orderv1.Order) ([]orderv1.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.orders[order.ID]; exists {
		return nil, fmt.Errorf("order %s already exists", order.ID)
	}

	trades := b.match(order)
	if order.Remaining() > 0 {
		b.enqueue(order)
	}
	b.orders[order.ID] = order

	b.assertNotCrossed()

	// publish before releasing the lock so no later match can enqueue ahead
	if b.sink != nil && len(trades) > 0 {
		b.sink.Append(trades...)
	}
	return trades, nil
}

// match runs the continuous double auction: while the incoming order has
// remaining quantity and the best opposite price crosses it, fill at the
// resting (maker) order's price.
func (b *Book) match(taker *orderv1.Order) []orderv1.Trade {
	var trades []orderv1.Trade

	for taker.Remaining() > 0 {
		var best *limit
		if taker.Side == orderv1.SideBuy {
			if len(b.asks) == 0 || b.asks[0].price > taker.Price {
				break
			}
			best = b.asks[0]
		} else {
			if len(b.bids) == 0 || b.bids[0].price < taker.Price {
				break
			}
			best = b.bids[0]
		}

		maker := best.orders[0]
		quantity := minUint64(taker.Remaining(), maker.Remaining())

		maker.Fill(quantity)
		taker.Fill(quantity)
		trades = append(trades, newTrade(taker, maker, best.price, quantity))

		if maker.IsFilled() {
			best.orders = best.orders[1:]
			if len(best.orders) == 0 {
				// best is always the front level of its side
				if maker.Side == orderv1.SideBuy {
					b.bids = b.bids[1:]
				} else {
					b.asks = b.asks[1:]
				}
			}
		}
	}
	return trades
}

func newTrade(taker, maker *orderv1.Order, price, quantity uint64) orderv1.Trade {
	buy, sell := taker, maker
	if taker.Side == orderv1.SideSell {
		buy, sell = maker, taker
	}
	return orderv1.Trade{
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Pair:        buy.Pair,
		Price:       price,
		Quantity:    quantity,
		Timestamp:   time.Now().UnixNano(),
		BuyUserID:   buy.UserID,
		SellUserID:  sell.UserID,
		BuyPrice:    buy.Price,
	}
}

// enqueue rests an order at its price level, creating the level if needed.
// Appending to the level keeps earlier orders ahead at equal price.
func (b *Book) enqueue(order *orderv1.Order) {
	side := &b.asks
	less := func(i int) bool { return b.asks[i].price >= order.Price }
	if order.Side == orderv1.SideBuy {
		side = &b.bids
		less = func(i int) bool { return b.bids[i].price <= order.Price }
	}

	levels := *side
	i := sort.Search(len(levels), less)
	if i < len(levels) && levels[i].price == order.Price {
		levels[i].orders = append(levels[i].orders, order)
		return
	}

	lvl := &limit{price: order.Price, orders: []*orderv1.Order{order}}
	levels = append(levels, nil)
	copy(levels[i+1:], levels[i:])
	levels[i] = lvl
	*side = levels
}

// Cancel removes a live order from the book, voiding its unfilled remainder.
func (b *Book) Cancel(orderID string) (*orderv1.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, orderv1.ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return nil, orderv1.ErrOrderAlreadyTerminal
	}

	b.unlink(order)
	order.SetStatus(orderv1.StatusCancelled)
	return order, nil
}

// unlink removes a resting order from its price level.
func (b *Book) unlink(order *orderv1.Order) {
	side := &b.asks
	if order.Side == orderv1.SideBuy {
		side = &b.bids
	}

	levels := *side
	for i, lvl := range levels {
		if lvl.price != order.Price {
			continue
		}
		for j, o := range lvl.orders {
			if o.ID == order.ID {
				lvl.orders = append(lvl.orders[:j], lvl.orders[j+1:]...)
				break
			}
		}
		if len(lvl.orders) == 0 {
			*side = append(levels[:i], levels[i+1:]...)
		}
		return
	}
}

// Get returns a snapshot of an order by id, terminal orders included.
func (b *Book) Get(orderID string) (*orderv1.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, orderv1.ErrOrderNotFound
	}
	snapshot := *order
	return &snapshot, nil
}

// BestBidAsk returns the best resting price on each side.
func (b *Book) BestBidAsk() (bid, ask uint64, hasBid, hasAsk bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) > 0 {
		bid, hasBid = b.bids[0].price, true
	}
	if len(b.asks) > 0 {
		ask, hasAsk = b.asks[0].price, true
	}
	return bid, ask, hasBid, hasAsk
}

// assertNotCrossed fails loudly when both sides exist and the best bid
// reaches the best ask. A crossed book is a matching bug, not a runtime
// condition to recover from. Callers hold the write lock.
func (b *Book) assertNotCrossed() {
	if len(b.bids) > 0 && len(b.asks) > 0 && b.bids[0].price >= b.asks[0].price {
		panic(fmt.Sprintf("crossed book on %s: bid %d >= ask %d", b.pair, b.bids[0].price, b.asks[0].price))
	}
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
