package orderv1

import (
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidOrder is returned when an order has a non-positive amount or price.
	ErrInvalidOrder = errors.New("invalid order: amount and price must be positive")
	// ErrUnknownPair is returned when a trading pair is not in BASE_QUOTE form.
	ErrUnknownPair = errors.New("unknown trading pair")
	// ErrInsufficientBalance is returned when the ledger cannot reserve the order's worst-case cost.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderNotFound is returned when an order id is not known to the book.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyTerminal is returned when cancelling a filled or cancelled order.
	ErrOrderAlreadyTerminal = errors.New("order already terminal")
	// ErrAmountOverflow is returned when amount*price does not fit in uint64.
	ErrAmountOverflow = errors.New("order cost overflows")
)

// Side represents the side of an order.
type Side string

const (
	// SideBuy represents a buy (bid) order.
	SideBuy Side = "buy"
	// SideSell represents a sell (ask) order.
	SideSell Side = "sell"
)

// Status represents the lifecycle state of an order.
type Status string

const (
	// StatusPending represents a resting order with no fills yet.
	StatusPending Status = "pending"
	// StatusPartiallyFilled represents a resting order with some fills.
	StatusPartiallyFilled Status = "partially_filled"
	// StatusFilled represents a fully consumed order.
	StatusFilled Status = "filled"
	// StatusCancelled represents an explicitly cancelled order.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final and immutable.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// IsLive reports whether an order with this status is resident in the book.
func (s Status) IsLive() bool {
	return s == StatusPending || s == StatusPartiallyFilled
}

// Order represents a single limit order. Amounts are base-token minor units,
// prices are quote-token minor units per base unit.
type Order struct {
	ID           string `json:"id"`
	UserID       string `json:"userID"`
	Pair         string `json:"pair"`
	Amount       uint64 `json:"amount"`
	FilledAmount uint64 `json:"filledAmount"`
	Price        uint64 `json:"price"`
	Side         Side   `json:"side"`
	Status       Status `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// NewOrder creates a pending order with a fresh ulid.
func NewOrder(userID, pair string, amount, price uint64, side Side) *Order {
	now := time.Now().UnixNano()
	return &Order{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Pair:      pair,
		Amount:    amount,
		Price:     price,
		Side:      side,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() uint64 {
	return o.Amount - o.FilledAmount
}

// IsFilled reports whether the order is fully consumed.
func (o *Order) IsFilled() bool {
	return o.FilledAmount >= o.Amount
}

// Fill records a fill and derives the new status. The filled amount never
// exceeds the total amount; callers match at most Remaining().
func (o *Order) Fill(quantity uint64) {
	o.FilledAmount += quantity
	if o.FilledAmount > o.Amount {
		panic("order overfilled")
	}
	if o.IsFilled() {
		o.Status = StatusFilled
	} else if o.FilledAmount > 0 {
		o.Status = StatusPartiallyFilled
	}
	o.UpdatedAt = time.Now().UnixNano()
}

// SetStatus updates the status and the update timestamp.
func (o *Order) SetStatus(status Status) {
	o.Status = status
	o.UpdatedAt = time.Now().UnixNano()
}

// Cost returns the worst-case quote-token cost of a buy order (amount*price)
// with overflow checking, mirroring the reservation made at placement.
func (o *Order) Cost() (uint64, error) {
	if o.Amount != 0 && o.Price > ^uint64(0)/o.Amount {
		return 0, ErrAmountOverflow
	}
	return o.Amount * o.Price, nil
}

// SplitPair parses a pair id of the form BASE_QUOTE (e.g. "ETH_USDT").
func SplitPair(pair string) (base, quote string, err error) {
	tokens := strings.Split(pair, "_")
	if len(tokens) != 2 || tokens[0] == "" || tokens[1] == "" {
		return "", "", ErrUnknownPair
	}
	return tokens[0], tokens[1], nil
}
