package sglist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_Partition(t *testing.T) {
	var l List

	require.NoError(t, l.AppendOut(0x1000, 64))
	require.NoError(t, l.AppendOut(0x2000, 128))
	l.AppendIn(0x3000, 4096)

	assert.Equal(t, 2, l.Out())
	assert.Equal(t, 1, l.In())
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []Segment{
		{Address: 0x1000, Length: 64},
		{Address: 0x2000, Length: 128},
		{Address: 0x3000, Length: 4096},
	}, l.Segments())
}

func TestList_OutAfterIn(t *testing.T) {
	var l List

	require.NoError(t, l.AppendOut(0x1000, 64))
	l.AppendIn(0x2000, 64)

	assert.ErrorIs(t, l.AppendOut(0x3000, 64), ErrSegmentOrder)
}

func TestList_Reset(t *testing.T) {
	var l List

	require.NoError(t, l.AppendOut(0x1000, 64))
	l.AppendIn(0x2000, 64)
	l.Reset()

	assert.Zero(t, l.Len())
	assert.Zero(t, l.Out())
	require.NoError(t, l.AppendOut(0x4000, 32))
	assert.Equal(t, 1, l.Out())
}
