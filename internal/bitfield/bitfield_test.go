package bitfield

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddHas(t *testing.T) {
	bf := New(10)
	require.False(t, bf.Has(3))
	require.NoError(t, bf.Add(3))
	require.True(t, bf.Has(3))
}

func TestAddRemove(t *testing.T) {
	bf := New(10)
	require.NoError(t, bf.Add(5))
	require.NoError(t, bf.Remove(5))
	require.False(t, bf.Has(5))
}

func TestPiecesAscendingNoDuplicates(t *testing.T) {
	bf := New(20)
	for _, i := range []int{7, 1, 19, 1, 0} {
		require.NoError(t, bf.Add(i))
	}
	require.Equal(t, []int{0, 1, 7, 19}, bf.Pieces())
}

func TestTrailingPaddingIsZero(t *testing.T) {
	bf := New(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, bf.Add(i))
	}
	// Only 5 bits set, byte has 3 padding bits which must stay zero.
	require.Equal(t, byte(0xF8), bf.Bytes()[0])
}

func TestNewBytesRejectsBadPadding(t *testing.T) {
	_, err := NewBytes([]byte{0x01}, 5)
	require.Error(t, err)
}

func TestNewBytesRejectsWrongSize(t *testing.T) {
	_, err := NewBytes([]byte{0x00, 0x00}, 5)
	require.Error(t, err)
}

func TestAllAndCount(t *testing.T) {
	bf := New(3)
	require.False(t, bf.All())
	bf.Set(0)
	bf.Set(1)
	bf.Set(2)
	require.True(t, bf.All())
	require.Equal(t, 3, bf.Count())
}

func TestCloneIndependence(t *testing.T) {
	bf := New(4)
	bf.Set(1)
	clone := bf.Clone()
	clone.Set(2)
	require.False(t, bf.Has(2))
	require.True(t, clone.Has(2))
}
