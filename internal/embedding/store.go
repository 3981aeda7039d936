package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tidyfile/tidyfile/internal/models"
	"github.com/tidyfile/tidyfile/internal/monitoring"
)

// PgStore persists file embeddings in Postgres with pgvector columns.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates an embedding store over the shared connection pool
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// FindEmbeddingByHash returns the stored embedding for a content hash and
// kind, or (nil, nil) when none exists. The same hash always maps to the
// same vector, so any matching row serves.
func (s *PgStore) FindEmbeddingByHash(ctx context.Context, hash string, kind models.EmbeddingKind) ([]float32, error) {
	began := time.Now()
	defer func() {
		monitoring.Get().DBQueryDuration.WithLabelValues("find_embedding").Observe(time.Since(began).Seconds())
	}()

	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT embedding
		 FROM file_embeddings
		 WHERE sha256 = $1 AND kind = $2
		 LIMIT 1`,
		hash, string(kind),
	).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find embedding by hash: %w", err)
	}
	return vec.Slice(), nil
}

// UpsertEmbedding stores the embedding for a file, replacing any previous
// vector of the same kind.
func (s *PgStore) UpsertEmbedding(ctx context.Context, emb models.FileEmbedding) error {
	began := time.Now()
	defer func() {
		monitoring.Get().DBQueryDuration.WithLabelValues("upsert_embedding").Observe(time.Since(began).Seconds())
	}()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO file_embeddings (file_id, kind, sha256, embedding, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (file_id, kind) DO UPDATE SET
			sha256 = EXCLUDED.sha256,
			embedding = EXCLUDED.embedding`,
		emb.FileID, string(emb.Kind), emb.SHA256, pgvector.NewVector(emb.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}
