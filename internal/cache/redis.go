package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis wraps the shared Redis client
type Redis struct {
	Client *redis.Client
}

// New creates a Redis client from a connection URL
func New(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info().Msg("Redis connection established")
	return &Redis{Client: client}, nil
}

// Close closes the Redis connection
func (r *Redis) Close() {
	if err := r.Client.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Redis connection")
	}
}

// Health checks if Redis is reachable
func (r *Redis) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func embeddingKey(kind, hash string) string {
	return fmt.Sprintf("emb:%s:%s", kind, hash)
}

// GetEmbedding fetches a cached embedding vector by content hash.
// A nil slice with nil error means the key is absent.
func (r *Redis) GetEmbedding(ctx context.Context, kind, hash string) ([]float32, error) {
	raw, err := r.Client.Get(ctx, embeddingKey(kind, hash)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get embedding: %w", err)
	}

	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, fmt.Errorf("corrupt cached embedding for %s: %w", hash, err)
	}
	return vector, nil
}

// SetEmbedding stores an embedding vector keyed by content hash
func (r *Redis) SetEmbedding(ctx context.Context, kind, hash string, vector []float32, ttl time.Duration) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	if err := r.Client.Set(ctx, embeddingKey(kind, hash), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set embedding: %w", err)
	}
	return nil
}
