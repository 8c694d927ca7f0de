package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_Deterministic(t *testing.T) {
	c := NewMockClientWithDimensions(64)
	ctx := context.Background()

	a, err := c.CreateEmbedding(ctx, "pothole on the left lane")
	require.NoError(t, err)
	require.Len(t, a, 64)

	b, err := c.CreateEmbedding(ctx, "pothole on the left lane")
	require.NoError(t, err)
	assert.Equal(t, a, b, "equal text must embed identically")

	other, err := c.CreateEmbedding(ctx, "longitudinal crack")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestMockClient_UnitLength(t *testing.T) {
	c := NewMockClient()

	vec, err := c.CreateEmbedding(context.Background(), "settlement near the shoulder")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-3)
}

func TestMockClient_EmptyInput(t *testing.T) {
	c := NewMockClient()

	_, err := c.CreateEmbedding(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}
