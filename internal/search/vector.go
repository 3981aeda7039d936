package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/tidyfile/tidyfile/internal/config"
	"github.com/tidyfile/tidyfile/internal/logging"
	"github.com/tidyfile/tidyfile/internal/models"
	"github.com/tidyfile/tidyfile/internal/monitoring"
	"golang.org/x/sync/semaphore"
)

// Service errors
var (
	ErrSearchUnavailable = errors.New("vector search unavailable")
	ErrInvalidQuery      = errors.New("invalid search query")
)

// Request describes one similarity search.
type Request struct {
	Embedding         []float32            `json:"embedding"`
	Kind              models.EmbeddingKind `json:"kind"`
	DistanceThreshold float64              `json:"distance_threshold"`
	Limit             int                  `json:"limit"`
	Offset            int                  `json:"offset"`
	ExcludeFileID     string               `json:"exclude_file_id,omitempty"`
}

// Result is one matched file with its measured similarity.
type Result struct {
	FileID     string  `json:"file_id"`
	FileName   string  `json:"file_name"`
	MimeType   string  `json:"mime_type"`
	SizeBytes  int64   `json:"size_bytes"`
	SHA256     string  `json:"sha256"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// Response carries one page of search results.
type Response struct {
	Results []Result `json:"results"`
	Count   int      `json:"count"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// Service runs paginated nearest-neighbor queries over stored embeddings.
// The requested limit is clamped to a configured cap and the number of
// in-flight queries is bounded by a semaphore, so a burst of searches
// cannot exhaust the database.
type Service struct {
	pool      *pgxpool.Pool
	resultCap int
	inflight  *semaphore.Weighted
	logger    zerolog.Logger
}

// NewService creates a vector search service
func NewService(pool *pgxpool.Pool, cfg *config.SearchConfig) *Service {
	return &Service{
		pool:      pool,
		resultCap: cfg.ResultCap,
		inflight:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:    logging.NewLogger("vector-search"),
	}
}

// ClampLimit bounds a requested page size to the configured cap. Requests
// of zero or less fall back to the cap.
func (s *Service) ClampLimit(requested int) int {
	if requested <= 0 || requested > s.resultCap {
		return s.resultCap
	}
	return requested
}

// Search returns stored files whose embedding lies within the distance
// threshold of the query, ranked by ascending distance with file id as the
// deterministic tie-break. Backend failures propagate; callers never
// receive a silently empty page.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	if len(req.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrInvalidQuery)
	}
	if req.Kind != models.EmbeddingKindText && req.Kind != models.EmbeddingKindImage {
		return nil, fmt.Errorf("%w: unknown embedding kind %q", ErrInvalidQuery, req.Kind)
	}
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidQuery)
	}

	if err := s.inflight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer s.inflight.Release(1)

	limit := s.ClampLimit(req.Limit)
	began := time.Now()
	m := monitoring.Get()

	query := `
		SELECT f.id, f.name, f.mime_type, f.size_bytes, f.sha256,
		       fe.embedding <=> $1 AS distance
		FROM file_embeddings fe
		JOIN files f ON fe.file_id = f.id
		WHERE fe.kind = $2
		  AND fe.embedding <=> $1 <= $3
		  AND ($4 = '' OR fe.file_id <> $4)
		ORDER BY fe.embedding <=> $1, f.id
		LIMIT $5 OFFSET $6`

	rows, err := s.pool.Query(ctx, query,
		pgvector.NewVector(req.Embedding),
		string(req.Kind),
		req.DistanceThreshold,
		req.ExcludeFileID,
		limit,
		req.Offset,
	)
	if err != nil {
		m.SearchesTotal.WithLabelValues(string(req.Kind), "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer rows.Close()

	results := make([]Result, 0, limit)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.FileID, &r.FileName, &r.MimeType, &r.SizeBytes, &r.SHA256, &r.Distance); err != nil {
			m.SearchesTotal.WithLabelValues(string(req.Kind), "error").Inc()
			return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
		}
		r.Similarity = 1 - r.Distance
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		m.SearchesTotal.WithLabelValues(string(req.Kind), "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}

	m.SearchesTotal.WithLabelValues(string(req.Kind), "success").Inc()
	m.SearchDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(began).Seconds())

	s.logger.Debug().
		Str("kind", string(req.Kind)).
		Int("count", len(results)).
		Int("limit", limit).
		Int("offset", req.Offset).
		Msg("Similarity search completed")

	return &Response{
		Results: results,
		Count:   len(results),
		Limit:   limit,
		Offset:  req.Offset,
		HasMore: len(results) == limit,
	}, nil
}
