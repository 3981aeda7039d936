package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidyfile/tidyfile/internal/models"
)

// countingGenerator records every batch it is asked to generate and returns
// a distinct vector per input.
type countingGenerator struct {
	calls   int
	batches [][]string
	fail    error
}

func (g *countingGenerator) Generate(_ context.Context, contents []string) ([][]float32, error) {
	g.calls++
	g.batches = append(g.batches, contents)
	if g.fail != nil {
		return nil, g.fail
	}
	out := make([][]float32, len(contents))
	for i, c := range contents {
		out[i] = []float32{float32(len(c)), float32(i + 1)}
	}
	return out, nil
}

func items(pairs ...string) []Item {
	// pairs alternate content, hash
	out := make([]Item, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Item{Content: pairs[i], Hash: pairs[i+1]})
	}
	return out
}

func TestGetOrGenerate_DeduplicatesHashesWithinBatch(t *testing.T) {
	c := NewCache(100, nil, nil)
	gen := &countingGenerator{}

	// Five texts over three unique hashes.
	in := items(
		"text one", "h1",
		"text one again", "h1",
		"text two", "h2",
		"text three", "h3",
		"text three again", "h3",
	)

	vectors, hits, err := c.GetOrGenerate(context.Background(), models.EmbeddingKindText, in, gen)
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls)
	require.Len(t, gen.batches[0], 3)
	require.Equal(t, []string{"text one", "text two", "text three"}, gen.batches[0])

	require.Len(t, vectors, 5)
	require.Len(t, hits, 5)
	for i, v := range vectors {
		require.NotNil(t, v, "position %d", i)
	}
	// Positions sharing a hash share a vector.
	require.Equal(t, vectors[0], vectors[1])
	require.Equal(t, vectors[3], vectors[4])
	require.NotEqual(t, vectors[0], vectors[2])
}

func TestGetOrGenerate_CachedEntriesSkipGenerator(t *testing.T) {
	c := NewCache(100, nil, nil)
	gen := &countingGenerator{}
	ctx := context.Background()

	c.Put(ctx, models.EmbeddingKindText, "h1", []float32{9, 9})

	vectors, hits, err := c.GetOrGenerate(ctx, models.EmbeddingKindText,
		items("cached", "h1", "fresh", "h2"), gen)
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls)
	require.Equal(t, []string{"fresh"}, gen.batches[0])
	require.Equal(t, []float32{9, 9}, vectors[0])
	require.True(t, hits[0])
	require.False(t, hits[1])
}

func TestGetOrGenerate_AllCachedMeansNoCall(t *testing.T) {
	c := NewCache(100, nil, nil)
	gen := &countingGenerator{}
	ctx := context.Background()

	c.Put(ctx, models.EmbeddingKindText, "h1", []float32{1})

	vectors, hits, err := c.GetOrGenerate(ctx, models.EmbeddingKindText, items("x", "h1"), gen)
	require.NoError(t, err)
	require.Zero(t, gen.calls)
	require.Equal(t, []float32{1}, vectors[0])
	require.True(t, hits[0])
}

func TestGetOrGenerate_GeneratorFailureFailsWholeCall(t *testing.T) {
	c := NewCache(100, nil, nil)
	boom := errors.New("transport down")
	gen := &countingGenerator{fail: boom}
	ctx := context.Background()

	c.Put(ctx, models.EmbeddingKindText, "h1", []float32{1})

	_, _, err := c.GetOrGenerate(ctx, models.EmbeddingKindText,
		items("cached", "h1", "fresh", "h2"), gen)
	require.ErrorIs(t, err, boom)

	// Nothing from the failed batch was cached, the prior entry survives.
	require.Nil(t, c.Get(ctx, models.EmbeddingKindText, "h2"))
	require.Equal(t, []float32{1}, c.Get(ctx, models.EmbeddingKindText, "h1"))
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := NewCache(100, nil, nil)
	ctx := context.Background()

	c.Put(ctx, models.EmbeddingKindImage, "h1", []float32{1, 2, 3})
	require.Equal(t, []float32{1, 2, 3}, c.Get(ctx, models.EmbeddingKindImage, "h1"))

	// Kinds are separate namespaces.
	require.Nil(t, c.Get(ctx, models.EmbeddingKindText, "h1"))
}

func TestCache_OldestFirstEviction(t *testing.T) {
	c := NewCache(2, nil, nil)
	ctx := context.Background()

	c.Put(ctx, models.EmbeddingKindText, "h1", []float32{1})
	c.Put(ctx, models.EmbeddingKindText, "h2", []float32{2})
	c.Put(ctx, models.EmbeddingKindText, "h3", []float32{3})

	require.Equal(t, 2, c.Len())
	require.Nil(t, c.Get(ctx, models.EmbeddingKindText, "h1"))
	require.NotNil(t, c.Get(ctx, models.EmbeddingKindText, "h2"))
	require.NotNil(t, c.Get(ctx, models.EmbeddingKindText, "h3"))
	require.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCache_LastWriteWins(t *testing.T) {
	c := NewCache(10, nil, nil)
	ctx := context.Background()

	c.Put(ctx, models.EmbeddingKindText, "h1", []float32{1})
	c.Put(ctx, models.EmbeddingKindText, "h1", []float32{2})

	require.Equal(t, []float32{2}, c.Get(ctx, models.EmbeddingKindText, "h1"))
	require.Equal(t, 1, c.Len())
}

// fakeStore is a persistence tier stub.
type fakeStore struct {
	vectors map[string][]float32
	err     error
	lookups int
}

func (s *fakeStore) FindEmbeddingByHash(_ context.Context, hash string, kind models.EmbeddingKind) ([]float32, error) {
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[string(kind)+":"+hash], nil
}

func TestCache_StoreTierReadThrough(t *testing.T) {
	store := &fakeStore{vectors: map[string][]float32{"text:h1": {7}}}
	c := NewCache(10, nil, store)
	gen := &countingGenerator{}
	ctx := context.Background()

	vectors, hits, err := c.GetOrGenerate(ctx, models.EmbeddingKindText, items("x", "h1"), gen)
	require.NoError(t, err)
	require.Zero(t, gen.calls)
	require.True(t, hits[0])
	require.Equal(t, []float32{7}, vectors[0])

	// Promoted into memory: the second read skips the store.
	lookups := store.lookups
	require.Equal(t, []float32{7}, c.Get(ctx, models.EmbeddingKindText, "h1"))
	require.Equal(t, lookups, store.lookups)
}

func TestCache_StoreFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("db unreachable")}
	c := NewCache(10, nil, store)
	gen := &countingGenerator{}

	vectors, hits, err := c.GetOrGenerate(context.Background(), models.EmbeddingKindText, items("x", "h1"), gen)
	require.NoError(t, err)
	require.Equal(t, 1, gen.calls)
	require.False(t, hits[0])
	require.NotNil(t, vectors[0])
}
