package pex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffReturnsEntriesSinceCursor(t *testing.T) {
	h := New()
	h.PushAdded("a:1")
	h.PushAdded("b:1")
	h.PushDropped("a:1")

	added, dropped, cursor := h.Diff(0)
	require.Equal(t, []string{"a:1", "b:1"}, added)
	require.Equal(t, []string{"a:1"}, dropped)
	require.Equal(t, 3, cursor)

	added, dropped, cursor2 := h.Diff(cursor)
	require.Empty(t, added)
	require.Empty(t, dropped)
	require.Equal(t, cursor, cursor2)
}

func TestShrinkDropsCommonPrefixPastThreshold(t *testing.T) {
	h := New()
	for i := 0; i < ShrinkThreshold+10; i++ {
		h.PushAdded("peer")
	}
	minCursor := 10
	h.Shrink([]int{minCursor, minCursor + 50})

	require.Equal(t, minCursor, h.base)
	require.Equal(t, ShrinkThreshold+10, h.Tip())
}

func TestShrinkNoopBelowThreshold(t *testing.T) {
	h := New()
	for i := 0; i < 10; i++ {
		h.PushAdded("peer")
	}
	h.Shrink([]int{5})
	require.Equal(t, 0, h.base)
}

func TestDiffResyncsCursorPredatingShrink(t *testing.T) {
	h := New()
	for i := 0; i < ShrinkThreshold+10; i++ {
		h.PushAdded("peer")
	}
	h.Shrink([]int{10, 60})

	added, _, cursor := h.Diff(0)
	require.Len(t, added, ShrinkThreshold+10-10)
	require.Equal(t, h.Tip(), cursor)
}
