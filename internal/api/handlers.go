package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anylots/zkvm-clob-exchange/internal/app/builder"
	blockv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/block/v1"
	ledgerv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/ledger/v1"
	orderv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/order/v1"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/exchange"
	"github.com/anylots/zkvm-clob-exchange/internal/usecase/vmpool"
	"github.com/anylots/zkvm-clob-exchange/pkg/logger"
)

// response is the uniform envelope of every endpoint.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler contains the dependencies of the HTTP surface.
type Handler struct {
	exchange *exchange.Exchange
	ledger   ledgerv1.Ledger
	builder  *builder.Builder
	pool     *vmpool.Pool
	logger   logger.Interface
}

// NewHandler creates the handler.
func NewHandler(
	ex *exchange.Exchange,
	ledger ledgerv1.Ledger,
	b *builder.Builder,
	pool *vmpool.Pool,
	log logger.Interface,
) *Handler {
	return &Handler{exchange: ex, ledger: ledger, builder: b, pool: pool, logger: log}
}

// Router builds the chi router with all routes registered.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/deposit", h.Deposit)
	r.Post("/withdraw", h.Withdraw)
	r.Post("/order/place", h.PlaceOrder)
	r.Post("/order/cancel", h.CancelOrder)
	r.Post("/vm/txn", h.SubmitVMTxn)

	r.Get("/order", h.GetOrder)
	r.Get("/orderbook", h.GetOrderbook)
	r.Get("/trades", h.GetTrades)
	r.Get("/balance", h.GetBalance)
	r.Get("/block/latest", h.GetLatestBlock)
	r.Get("/block/{num}", h.GetBlock)
	r.Get("/blocks", h.GetBlocks)

	return r
}

func writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), response{Success: false, Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, orderv1.ErrInvalidOrder),
		errors.Is(err, orderv1.ErrUnknownPair),
		errors.Is(err, orderv1.ErrAmountOverflow),
		errors.Is(err, orderv1.ErrInsufficientBalance),
		errors.Is(err, ledgerv1.ErrInsufficientFunds),
		errors.Is(err, vmpool.ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, orderv1.ErrOrderNotFound),
		errors.Is(err, blockv1.ErrBlockNotFound):
		return http.StatusNotFound
	case errors.Is(err, orderv1.ErrOrderAlreadyTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("invalid request body")

// Deposit credits a user's available balance.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userID"`
		Token  string `json:"token"`
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Token == "" || req.Amount == 0 {
		writeError(w, errBadRequest)
		return
	}

	h.ledger.Deposit(req.UserID, req.Token, req.Amount)
	writeData(w, h.ledger.Balance(req.UserID, req.Token))
}

// Withdraw debits a user's available balance.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userID"`
		Token  string `json:"token"`
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Token == "" || req.Amount == 0 {
		writeError(w, errBadRequest)
		return
	}

	if err := h.ledger.Withdraw(req.UserID, req.Token, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, h.ledger.Balance(req.UserID, req.Token))
}

// PlaceOrder submits a limit order to the matching engine.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userID"`
		Pair   string `json:"pair"`
		Amount uint64 `json:"amount"`
		Price  uint64 `json:"price"`
		Side   string `json:"side"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest)
		return
	}
	side := orderv1.Side(req.Side)
	if side != orderv1.SideBuy && side != orderv1.SideSell {
		writeError(w, orderv1.ErrInvalidOrder)
		return
	}

	order, trades, err := h.exchange.PlaceOrder(req.UserID, req.Pair, req.Amount, req.Price, side)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]any{"order": order, "trades": trades})
}

// CancelOrder removes a live order from its book.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pair    string `json:"pair"`
		OrderID string `json:"orderID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeError(w, errBadRequest)
		return
	}

	order, err := h.exchange.CancelOrder(req.Pair, req.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, order)
}

// SubmitVMTxn queues a raw transaction for the next checkpoint.
func (h *Handler) SubmitVMTxn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Raw string `json:"raw"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Raw == "" {
		writeError(w, errBadRequest)
		return
	}

	hash, err := h.pool.Add(req.Raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]string{"hash": hash})
}

// GetOrder returns an order by pair and id, terminal orders included.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	orderID := r.URL.Query().Get("orderID")

	order, err := h.exchange.GetOrder(pair, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, order)
}

// GetOrderbook returns the best resting prices of a pair.
func (h *Handler) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")

	bid, ask, hasBid, hasAsk, err := h.exchange.BestBidAsk(pair)
	if err != nil {
		writeError(w, err)
		return
	}

	data := map[string]any{"pair": pair}
	if hasBid {
		data["bestBid"] = bid
	}
	if hasAsk {
		data["bestAsk"] = ask
	}
	writeData(w, data)
}

// GetTrades returns the full trade history in match order.
func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.exchange.Trades())
}

// GetBalance returns a user's balance for one token.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userID")
	token := r.URL.Query().Get("token")
	if userID == "" || token == "" {
		writeError(w, errBadRequest)
		return
	}

	writeData(w, h.ledger.Balance(userID, token))
}

// GetLatestBlock returns the latest persisted block.
func (h *Handler) GetLatestBlock(w http.ResponseWriter, r *http.Request) {
	latest := h.builder.LatestBlockNum()
	if latest == 0 {
		writeError(w, blockv1.ErrBlockNotFound)
		return
	}

	block, err := h.builder.GetBlock(latest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, block)
}

// GetBlock returns one block by number.
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.ParseUint(chi.URLParam(r, "num"), 10, 64)
	if err != nil || num == 0 {
		writeError(w, errBadRequest)
		return
	}

	block, err := h.builder.GetBlock(num)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, block)
}

// GetBlocks returns the blocks with numbers in [from, to].
func (h *Handler) GetBlocks(w http.ResponseWriter, r *http.Request) {
	from, err1 := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	to, err2 := strconv.ParseUint(r.URL.Query().Get("to"), 10, 64)
	if err1 != nil || err2 != nil || from == 0 || to < from {
		writeError(w, errBadRequest)
		return
	}

	blocks, err := h.builder.GetBlocksRange(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, blocks)
}
