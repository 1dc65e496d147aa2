package vm

import (
	"context"
	"testing"

	vmv1 "github.com/anylots/zkvm-clob-exchange/internal/domain/vm/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test 1: Apply is deterministic and chains from the prior root
func TestEngine_Apply(t *testing.T) {
	e := NewEngine()
	ctx := context.Background()

	txns := []vmv1.Transaction{
		{Raw: []byte{0x01}},
		{Raw: []byte{0x02}},
	}

	root1, err := e.Apply(ctx, txns, nil)
	require.NoError(t, err)
	root2, err := e.Apply(ctx, txns, nil)
	require.NoError(t, err)
	assert.Equal(t, root1, root2)

	chained, err := e.Apply(ctx, txns, root1)
	require.NoError(t, err)
	assert.NotEqual(t, root1, chained)
}

// Test 2: An empty batch leaves the root unchanged
func TestEngine_Apply_Empty(t *testing.T) {
	e := NewEngine()

	prior := []byte{0xab, 0xcd}
	root, err := e.Apply(context.Background(), nil, prior)
	require.NoError(t, err)
	assert.Equal(t, prior, root)
}

// Test 3: A cancelled context aborts execution
func TestEngine_Apply_Cancelled(t *testing.T) {
	e := NewEngine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Apply(ctx, nil, nil)
	assert.Error(t, err)
}
