package blockv1

import (
	"encoding/binary"

	orderv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/order/v1"
	"golang.org/x/crypto/sha3"
)

// Block is an immutable, hash-committed batch of trades. Numbers start at 1
// and increase by exactly one per block.
type Block struct {
	Number    uint64          `json:"number"`
	Trades    []orderv1.Trade `json:"trades"`
	TxnsRoot  []byte          `json:"txnsRoot"`
	StateRoot []byte          `json:"stateRoot,omitempty"`
	CreatedAt int64           `json:"createdAt"`
}

// ComputeTxnsRoot returns the SHA3-256 digest over the canonical encoding of
// the trade sequence. The digest is a pure function of the trades and their
// order: two blocks with the same trade sequence commit to the same root.
func ComputeTxnsRoot(trades []orderv1.Trade) []byte {
	h := sha3.New256()
	var buf [8]byte
	for i := range trades {
		t := &trades[i]
		h.Write([]byte(t.BuyOrderID))
		h.Write([]byte(t.SellOrderID))
		binary.BigEndian.PutUint64(buf[:], t.Price)
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], t.Quantity)
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(t.Timestamp))
		h.Write(buf[:])
	}
	return h.Sum(nil)
}
