package blockv1

import (
	"context"
	"errors"
)

// ErrBlockNotFound is returned when a block number has no persisted block.
var ErrBlockNotFound = errors.New("block not found")

// Store is the durable key-value persistence consumed by the block builder.
// A successful Put must be crash-durable before it returns.
type Store interface {
	Put(block *Block) error
	Get(number uint64) (*Block, error)
	Range(start, end uint64) ([]*Block, error)
	LatestBlockNum() uint64
	Close() error
}

// Publisher pushes sealed blocks to downstream consumers. Publishing is
// best-effort: a failure never blocks or rolls back block production.
type Publisher interface {
	PublishBlock(ctx context.Context, block *Block) error
}
