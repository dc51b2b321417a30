package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAggregationBufferAddDrain(t *testing.T) {
	ctx := context.Background()
	buf := NewMemoryAggregationBuffer()

	n, err := buf.Add(ctx, "node-1", "group-a", bufferedToken{TokenID: "t1", BufferedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = buf.Add(ctx, "node-1", "group-a", bufferedToken{TokenID: "t2", BufferedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	length, err := buf.Len(ctx, "node-1", "group-a")
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	members, err := buf.Drain(ctx, "node-1", "group-a")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "t1", members[0].TokenID)
	assert.Equal(t, "t2", members[1].TokenID)

	length, err = buf.Len(ctx, "node-1", "group-a")
	require.NoError(t, err)
	assert.Equal(t, 0, length)
}

func TestMemoryAggregationBufferGroupsIsolated(t *testing.T) {
	ctx := context.Background()
	buf := NewMemoryAggregationBuffer()

	_, err := buf.Add(ctx, "node-1", "group-a", bufferedToken{TokenID: "t1"})
	require.NoError(t, err)
	_, err = buf.Add(ctx, "node-1", "group-b", bufferedToken{TokenID: "t2"})
	require.NoError(t, err)

	a, err := buf.Drain(ctx, "node-1", "group-a")
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, "t1", a[0].TokenID)

	b, err := buf.Len(ctx, "node-1", "group-b")
	require.NoError(t, err)
	assert.Equal(t, 1, b)
}

func TestRedisAggregationBufferAddDrain(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	buf, err := NewRedisAggregationBuffer(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)

	_, err = buf.Add(ctx, "node-1", "group-a", bufferedToken{TokenID: "t1", RowJSON: `{"x":1}`})
	require.NoError(t, err)
	n, err := buf.Add(ctx, "node-1", "group-a", bufferedToken{TokenID: "t2", RowJSON: `{"x":2}`})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	members, err := buf.Drain(ctx, "node-1", "group-a")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "t1", members[0].TokenID)
	assert.Equal(t, `{"x":2}`, members[1].RowJSON)

	length, err := buf.Len(ctx, "node-1", "group-a")
	require.NoError(t, err)
	assert.Equal(t, 0, length)
}
