package blockstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	blockv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/block/v1"
	"github.com/anylots/zkvm-clob-exchange/pkg/errors"
	"github.com/cockroachdb/pebble"
)

const latestBlockKey = "latest_block_num"

func blockKey(number uint64) []byte {
	return []byte(fmt.Sprintf("block_%d", number))
}

// Store persists blocks in an embedded pebble database. Writes are synced, so
// a successful Put is crash-durable; the latest-block pointer is written only
// after the block itself.
type Store struct {
	mu     sync.RWMutex
	db     *pebble.DB
	latest uint64
}

// Open opens (or creates) the store at dir and recovers the latest block
// number written before a restart.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.NewTracer("open block store").Wrap(err)
	}

	s := &Store{db: db}
	value, closer, err := db.Get([]byte(latestBlockKey))
	switch err {
	case nil:
		if len(value) != 8 {
			closer.Close()
			db.Close()
			return nil, errors.NewTracer("corrupt latest block number")
		}
		s.latest = binary.BigEndian.Uint64(value)
		closer.Close()
	case pebble.ErrNotFound:
		// fresh database, latest stays 0
	default:
		db.Close()
		return nil, errors.NewTracer("read latest block number").Wrap(err)
	}

	return s, nil
}

// Put durably writes a block and then advances the latest-block pointer.
func (s *Store) Put(block *blockv1.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return errors.NewTracer("marshal block").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Set(blockKey(block.Number), data, pebble.Sync); err != nil {
		return errors.NewTracer("persist block").Wrap(err)
	}

	var num [8]byte
	binary.BigEndian.PutUint64(num[:], block.Number)
	if err := s.db.Set([]byte(latestBlockKey), num[:], pebble.Sync); err != nil {
		return errors.NewTracer("persist latest block number").Wrap(err)
	}
	s.latest = block.Number
	return nil
}

// Get returns the block with the given number.
func (s *Store) Get(number uint64) (*blockv1.Block, error) {
	value, closer, err := s.db.Get(blockKey(number))
	if err == pebble.ErrNotFound {
		return nil, blockv1.ErrBlockNotFound
	}
	if err != nil {
		return nil, errors.NewTracer("read block").Wrap(err)
	}
	defer closer.Close()

	var block blockv1.Block
	if err := json.Unmarshal(value, &block); err != nil {
		return nil, errors.NewTracer("unmarshal block").Wrap(err)
	}
	return &block, nil
}

// Range returns the persisted blocks with numbers in [start, end].
func (s *Store) Range(start, end uint64) ([]*blockv1.Block, error) {
	var blocks []*blockv1.Block
	for number := start; number <= end; number++ {
		block, err := s.Get(number)
		if err == blockv1.ErrBlockNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// LatestBlockNum returns the number of the most recently persisted block,
// zero when none exists.
func (s *Store) LatestBlockNum() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
