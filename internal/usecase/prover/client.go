package prover

import (
	"context"
	"sync"

	vmv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/vm/v1"
	"github.com/anylots/zkvm-clob-exchange/pkg/logger"
	"github.com/oklog/ulid/v2"
)

// Submission pairs a checkpoint with the handle it was accepted under.
type Submission struct {
	Handle     string
	Checkpoint vmv1.Checkpoint
}

// Client hands checkpoints to the proof subsystem. This implementation
// records submissions locally and returns immediately; proof completion is
// observed out of band by whoever holds the handle.
type Client struct {
	mu          sync.Mutex
	submissions []Submission
	logger      logger.Interface
}

// NewClient creates a local proof submission client.
func NewClient(log logger.Interface) *Client {
	return &Client{logger: log}
}

// Submit accepts a checkpoint and returns its proof handle.
func (c *Client) Submit(ctx context.Context, checkpoint *vmv1.Checkpoint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	handle := ulid.Make().String()
	checkpoint.ProofRef = handle

	c.mu.Lock()
	c.submissions = append(c.submissions, Submission{Handle: handle, Checkpoint: *checkpoint})
	c.mu.Unlock()

	c.logger.Info("checkpoint submitted for proving",
		logger.Field{Key: "handle", Value: handle},
		logger.Field{Key: "fromBlock", Value: checkpoint.FromBlock},
		logger.Field{Key: "toBlock", Value: checkpoint.ToBlock},
		logger.Field{Key: "txns", Value: len(checkpoint.Txns)},
	)
	return handle, nil
}

// Submissions returns a snapshot of everything submitted so far.
func (c *Client) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Submission, len(c.submissions))
	copy(out, c.submissions)
	return out
}
