package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	s, err := EncodeCursor(Cursor{Block: 12, LogIndex: 3})
	require.NoError(t, err)

	c, err := DecodeCursor(s)
	require.NoError(t, err)
	require.Equal(t, Cursor{Block: 12, LogIndex: 3}, c)

	c, err = DecodeCursor("")
	require.NoError(t, err)
	require.Equal(t, Cursor{}, c)

	_, err = DecodeCursor("%%%")
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestBuildCursorPageInfo(t *testing.T) {
	at := func(n int) Cursor { return Cursor{Block: uint64(n)} }

	page, info, err := BuildCursorPageInfo([]int{1, 2, 3}, 2, at)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, page)
	require.True(t, info.HasMore)

	next, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Block)

	page, info, err = BuildCursorPageInfo([]int{1}, 2, at)
	require.NoError(t, err)
	require.Equal(t, []int{1}, page)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}
