package orderv1

// Trade represents a single match between a buy and a sell order. The maker's
// limit price is always the execution price. Settlement fields carry enough of
// both orders for the block builder to move funds without a book lookup.
type Trade struct {
	BuyOrderID  string `json:"buyOrderID"`
	SellOrderID string `json:"sellOrderID"`
	Pair        string `json:"pair"`
	Price       uint64 `json:"price"`
	Quantity    uint64 `json:"quantity"`
	Timestamp   int64  `json:"timestamp"`

	// Settlement context.
	BuyUserID  string `json:"buyUserID"`
	SellUserID string `json:"sellUserID"`
	// BuyPrice is the buy order's limit price, used to release the
	// reservation surplus when the execution price is better.
	BuyPrice uint64 `json:"buyPrice"`
}

// QuoteAmount returns quantity*price, the quote-token leg of the trade.
func (t *Trade) QuoteAmount() uint64 {
	return t.Quantity * t.Price
}
