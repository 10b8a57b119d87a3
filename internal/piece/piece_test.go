package piece

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubRationalTrailingBlock(t *testing.T) {
	p := New(0, BlockSize+100)
	require.Equal(t, 2, p.NumBlocks())
	require.Equal(t, BlockSize, p.BlockLen(0))
	require.Equal(t, 100, p.BlockLen(1))
}

func TestAssembleCompletePiece(t *testing.T) {
	p := New(0, BlockSize+100)
	require.False(t, p.IsComplete())

	require.NoError(t, p.PutBlock(0, make([]byte, BlockSize)))
	require.False(t, p.IsComplete())
	require.NoError(t, p.PutBlock(BlockSize, make([]byte, 100)))
	require.True(t, p.IsComplete())
	require.Len(t, p.Bytes(), BlockSize+100)
}

func TestDuplicateArrivalIsIdempotent(t *testing.T) {
	p := New(0, 10)
	require.NoError(t, p.PutBlock(0, []byte("0123456789")))
	require.True(t, p.IsComplete())
	require.NoError(t, p.PutBlock(0, []byte("0123456789")))
	require.True(t, p.IsComplete())
}

func TestCancelPeerBlocksRevertsOnlyThatPeer(t *testing.T) {
	p := New(0, BlockSize*2)
	p.MarkRequested(0, "peerA")
	p.MarkRequested(1, "peerB")

	reverted := p.CancelPeerBlocks("peerA")
	require.Equal(t, []int{0}, reverted)

	_, stillAssigned := p.AssignedTo(1)
	require.True(t, stillAssigned)
	_, assigned := p.AssignedTo(0)
	require.False(t, assigned)
}

func TestResetClearsProgress(t *testing.T) {
	p := New(0, 10)
	require.NoError(t, p.PutBlock(0, make([]byte, 10)))
	require.True(t, p.IsComplete())

	p.Reset()
	require.False(t, p.IsComplete())
	idx, ok := p.NextNotRequested()
	require.True(t, ok)
	require.Equal(t, 0, idx)
}

func TestPutBlockRejectsWrongLength(t *testing.T) {
	p := New(0, 10)
	err := p.PutBlock(0, make([]byte, 5))
	require.Error(t, err)
}
