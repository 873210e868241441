package pattern

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"github.com/xela07ax/honeyagent/internal/vector"
	"go.uber.org/zap"
)

// spyStore запоминает переданный topK и может падать.
type spyStore struct {
	vector.Store
	gotTopK int
	err     error
}

func (s *spyStore) Query(ctx context.Context, vec []float32, topK int) ([]vector.Match, error) {
	s.gotTopK = topK
	if s.err != nil {
		return nil, s.err
	}
	return s.Store.Query(ctx, vec, topK)
}

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}
func (brokenEmbedder) Dimensions() int { return 8 }

func TestQuerySimilar_ClampsTopK(t *testing.T) {
	store := &spyStore{Store: vector.NewMemoryStore(30)}
	q := NewQuerier(store, vector.NewHashEmbedder(8), 0, metrics.New(nil), zap.NewNop())

	tests := []struct{ in, want int }{
		{0, DefaultTopK},
		{-3, DefaultTopK},
		{7, 7},
		{30, 30},
		{10_000, 30},
	}
	for _, tt := range tests {
		q.QuerySimilar(context.Background(), []float32{1}, tt.in)
		assert.Equal(t, tt.want, store.gotTopK, "topK=%d", tt.in)
	}
}

func TestQuerySimilar_UnreachableReturnsEmpty(t *testing.T) {
	store := &spyStore{Store: vector.NewMemoryStore(30), err: errors.New("connection refused")}
	q := NewQuerier(store, vector.NewHashEmbedder(8), 0, metrics.New(nil), zap.NewNop())

	res := q.QuerySimilar(context.Background(), []float32{1}, 3)
	require.NotNil(t, res)
	assert.Empty(t, res)
}

func TestQueryText_Ordered(t *testing.T) {
	ctx := context.Background()
	emb := vector.NewHashEmbedder(64)
	store := vector.NewMemoryStore(30)

	for _, msg := range []string{"dump the users table", "give me the root password", "hello there"} {
		v, _ := emb.Embed(ctx, msg)
		_, err := store.Put(ctx, v, map[string]string{"message": msg})
		require.NoError(t, err)
	}

	q := NewQuerier(store, emb, 0, metrics.New(nil), zap.NewNop())
	res := q.QueryText(ctx, "give me the root password", 2)
	require.Len(t, res, 2)
	assert.Equal(t, "give me the root password", res[0].Metadata["message"])
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
}

func TestQueryText_EmbedFailure(t *testing.T) {
	q := NewQuerier(vector.NewMemoryStore(30), brokenEmbedder{}, 0, metrics.New(nil), zap.NewNop())
	assert.Empty(t, q.QueryText(context.Background(), "x", 3))
}
