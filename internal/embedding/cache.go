package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidyfile/tidyfile/internal/cache"
	"github.com/tidyfile/tidyfile/internal/logging"
	"github.com/tidyfile/tidyfile/internal/models"
	"github.com/tidyfile/tidyfile/internal/monitoring"
)

// ErrLengthMismatch is returned when an item list is malformed.
var ErrLengthMismatch = errors.New("contents and hashes must have the same length")

// Item pairs one payload with its content hash.
type Item struct {
	Content string
	Hash    string
}

// Store is the minimal persistence surface the cache reads through.
// FindEmbeddingByHash returns (nil, nil) when no embedding is stored.
type Store interface {
	FindEmbeddingByHash(ctx context.Context, hash string, kind models.EmbeddingKind) ([]float32, error)
}

// Stats exposes cache effectiveness counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type cacheKey struct {
	kind models.EmbeddingKind
	hash string
}

// Cache is a content-hash-keyed embedding cache with three tiers: a bounded
// in-process map with oldest-first eviction, an optional shared Redis tier,
// and an optional read-through to the persistence store.
//
// Concurrent misses for the same hash may both generate; the value is
// content-deterministic so the duplicated work is accepted and the last
// write wins.
type Cache struct {
	mu         sync.RWMutex
	maxEntries int
	entries    map[cacheKey][]float32
	order      []cacheKey

	redis     *cache.Redis
	redisDown bool
	store     Store

	stats  Stats
	logger zerolog.Logger
}

// NewCache creates a cache bounded to maxEntries in-memory vectors. redis
// and store are optional tiers; either may be nil.
func NewCache(maxEntries int, redis *cache.Redis, store Store) *Cache {
	return &Cache{
		maxEntries: maxEntries,
		entries:    make(map[cacheKey][]float32),
		redis:      redis,
		store:      store,
		logger:     logging.NewLogger("embedding-cache"),
	}
}

// GetOrGenerate resolves one embedding per item, reusing cached vectors and
// invoking gen exactly once with the uncached contents (unique by hash, in
// first-occurrence order). Returned vectors and hit flags are positionally
// aligned with items.
//
// If gen fails the whole call fails; nothing from the failed batch is
// cached and already-cached entries are untouched.
func (c *Cache) GetOrGenerate(ctx context.Context, kind models.EmbeddingKind, items []Item, gen Generator) ([][]float32, []bool, error) {
	for _, item := range items {
		if item.Hash == "" {
			return nil, nil, fmt.Errorf("%w: item with empty hash", ErrLengthMismatch)
		}
	}

	vectors := make([][]float32, len(items))
	hits := make([]bool, len(items))

	// Partition into cached and uncached, preserving index order. Repeated
	// hashes collapse to one generator input.
	var missedContents []string
	var missedHashes []string
	missedIndex := make(map[string]int)

	for i, item := range items {
		if vec := c.lookup(ctx, kind, item.Hash); vec != nil {
			vectors[i] = vec
			hits[i] = true
			continue
		}
		if _, queued := missedIndex[item.Hash]; !queued {
			missedIndex[item.Hash] = len(missedContents)
			missedContents = append(missedContents, item.Content)
			missedHashes = append(missedHashes, item.Hash)
		}
	}

	if len(missedContents) == 0 {
		return vectors, hits, nil
	}

	generated, err := gen.Generate(ctx, missedContents)
	if err != nil {
		return nil, nil, err
	}
	if len(generated) != len(missedContents) {
		return nil, nil, fmt.Errorf("%w: got %d for %d inputs", ErrBatchMismatch, len(generated), len(missedContents))
	}

	for i, hash := range missedHashes {
		c.Put(ctx, kind, hash, generated[i])
	}

	// Merge generated vectors back into their original positions.
	for i, item := range items {
		if hits[i] {
			continue
		}
		vectors[i] = generated[missedIndex[item.Hash]]
	}

	return vectors, hits, nil
}

// Get returns the cached vector for (kind, hash), or nil when absent.
func (c *Cache) Get(ctx context.Context, kind models.EmbeddingKind, hash string) []float32 {
	return c.lookup(ctx, kind, hash)
}

// lookup walks the tiers: memory, Redis, persistence store. A hit in a
// lower tier promotes the vector into memory.
func (c *Cache) lookup(ctx context.Context, kind models.EmbeddingKind, hash string) []float32 {
	key := cacheKey{kind: kind, hash: hash}

	c.mu.RLock()
	vec, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.recordHit("memory")
		return vec
	}

	if vec := c.redisLookup(ctx, kind, hash); vec != nil {
		c.recordHit("redis")
		c.storeLocal(key, vec)
		return vec
	}

	if c.store != nil {
		vec, err := c.store.FindEmbeddingByHash(ctx, hash, kind)
		if err != nil {
			// Persistence trouble is non-fatal to a cache read.
			c.logger.Debug().Err(err).Str("hash", logging.SanitizeForLog(hash, 16)).Msg("Store lookup failed")
		} else if vec != nil {
			c.recordHit("store")
			c.storeLocal(key, vec)
			return vec
		}
	}

	c.recordMiss()
	return nil
}

// Put stores a vector in the memory tier and, when available, Redis.
// Last write wins.
func (c *Cache) Put(ctx context.Context, kind models.EmbeddingKind, hash string, vector []float32) {
	c.storeLocal(cacheKey{kind: kind, hash: hash}, vector)

	if c.redis == nil || c.redisDownLocked() {
		return
	}
	if err := c.redis.SetEmbedding(ctx, string(kind), hash, vector, 0); err != nil {
		c.markRedisDown(err)
	}
}

func (c *Cache) storeLocal(key cacheKey, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
		if len(c.order) > c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
			c.stats.Evictions++
			monitoring.Get().CacheEvictions.WithLabelValues("memory").Inc()
		}
	}
	c.entries[key] = vector
	monitoring.Get().CacheEntries.WithLabelValues("memory").Set(float64(len(c.entries)))
}

// redisLookup consults the Redis tier. Any Redis failure degrades the cache
// to memory-only operation rather than failing the caller.
func (c *Cache) redisLookup(ctx context.Context, kind models.EmbeddingKind, hash string) []float32 {
	if c.redis == nil || c.redisDownLocked() {
		return nil
	}
	vec, err := c.redis.GetEmbedding(ctx, string(kind), hash)
	if err != nil {
		c.markRedisDown(err)
		return nil
	}
	return vec
}

func (c *Cache) redisDownLocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.redisDown
}

func (c *Cache) markRedisDown(err error) {
	c.mu.Lock()
	already := c.redisDown
	c.redisDown = true
	c.mu.Unlock()
	if !already {
		c.logger.Warn().Err(err).Msg("Redis cache tier unavailable, continuing memory-only")
	}
}

func (c *Cache) recordHit(tier string) {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	monitoring.Get().CacheHits.WithLabelValues(tier).Inc()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	monitoring.Get().CacheMisses.WithLabelValues("memory").Inc()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Len returns the current number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
