package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidyfile/tidyfile/internal/config"
	"github.com/tidyfile/tidyfile/internal/dedupe"
	"github.com/tidyfile/tidyfile/internal/embedding"
	"github.com/tidyfile/tidyfile/internal/logging"
	"github.com/tidyfile/tidyfile/internal/models"
	"github.com/tidyfile/tidyfile/internal/monitoring"
	"github.com/tidyfile/tidyfile/internal/normalize"
	"golang.org/x/sync/errgroup"
)

// Worker errors
var (
	ErrQueueFull      = errors.New("processing queue is full")
	ErrAlreadyRunning = errors.New("worker already running")
)

// EmbeddingWriter persists generated embeddings per file. Kept narrow so
// tests can stub it.
type EmbeddingWriter interface {
	UpsertEmbedding(ctx context.Context, emb models.FileEmbedding) error
}

// Worker drains a bounded FIFO queue of session ids with a single loop,
// interleaving a periodic TTL sweep. Sessions are processed one at a time;
// the one parallel step inside a session is embedding generation, where all
// text and image payloads are merged into batched generator calls.
type Worker struct {
	manager    *Manager
	normalizer normalize.Normalizer
	cache      *embedding.Cache
	textGen    embedding.Generator
	imageGen   embedding.Generator
	embStore   EmbeddingWriter
	grouper    *dedupe.Grouper

	queue         chan uuid.UUID
	sweepInterval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	logger zerolog.Logger
}

// WorkerDeps bundles the collaborators a worker drives.
type WorkerDeps struct {
	Manager    *Manager
	Normalizer normalize.Normalizer
	Cache      *embedding.Cache
	TextGen    embedding.Generator
	ImageGen   embedding.Generator
	EmbStore   EmbeddingWriter
	Grouper    *dedupe.Grouper
}

// NewWorker creates a background worker with a bounded queue.
func NewWorker(cfg *config.SessionConfig, deps WorkerDeps) *Worker {
	return &Worker{
		manager:       deps.Manager,
		normalizer:    deps.Normalizer,
		cache:         deps.Cache,
		textGen:       deps.TextGen,
		imageGen:      deps.ImageGen,
		embStore:      deps.EmbStore,
		grouper:       deps.Grouper,
		queue:         make(chan uuid.UUID, cfg.QueueCapacity),
		sweepInterval: cfg.SweepInterval,
		stopCh:        make(chan struct{}),
		logger:        logging.NewLogger("worker"),
	}
}

// Start launches the worker loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info().Msg("Background worker started")
	return nil
}

// Stop stops the worker loop and waits for the in-flight session to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info().Msg("Background worker stopped")
}

// Enqueue queues a session for processing. The queue is bounded; a full
// queue rejects the request rather than blocking the caller.
func (w *Worker) Enqueue(id uuid.UUID) error {
	select {
	case w.queue <- id:
		monitoring.Get().QueueDepth.Set(float64(len(w.queue)))
		w.logger.Info().Str("session_id", id.String()).Msg("Session queued for processing")
		return nil
	default:
		return ErrQueueFull
	}
}

// run is the main worker loop: drain the queue, and between sessions run
// the periodic TTL sweep.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case id := <-w.queue:
			monitoring.Get().QueueDepth.Set(float64(len(w.queue)))
			w.ProcessSession(ctx, id)
		case <-ticker.C:
			w.manager.CleanupExpired(ctx)
		}
	}
}

// ProcessSession runs one session end to end: per-file normalization and
// hashing, batched embedding generation through the cache, duplicate
// grouping, and durable result persistence. Per-file failures never abort
// the batch; an orchestration failure marks the session failed with the
// captured message.
func (w *Worker) ProcessSession(ctx context.Context, id uuid.UUID) {
	began := time.Now()
	m := monitoring.Get()

	sess, err := w.manager.GetSession(id)
	if err != nil {
		w.logger.Error().Err(err).Str("session_id", id.String()).Msg("Queued session no longer exists")
		return
	}

	w.logger.Info().Str("session_id", id.String()).Str("owner_id", sess.OwnerID).Msg("Processing session")

	if err := w.manager.Update(ctx, id, func(s *models.UploadSession) {
		s.Status = models.SessionStatusProcessing
		s.Progress = 0
	}); err != nil {
		w.failSession(ctx, id, err)
		return
	}

	paths, err := w.manager.ListUploads(id)
	if err != nil {
		w.failSession(ctx, id, err)
		return
	}
	if len(paths) == 0 {
		w.failSession(ctx, id, ErrNoFiles)
		return
	}

	total := len(paths)
	_ = w.manager.Update(ctx, id, func(s *models.UploadSession) {
		s.TotalFiles = total
	})

	records := make([]*models.FileRecord, 0, total)
	failed := 0

	for i, path := range paths {
		// Cooperative cancellation between files: a shutdown mid-batch
		// leaves the session failed and inspectable instead of hung.
		if err := ctx.Err(); err != nil {
			w.failSession(ctx, id, fmt.Errorf("processing cancelled: %w", err))
			return
		}

		progress := i * 100 / total
		_ = w.manager.Update(ctx, id, func(s *models.UploadSession) {
			if progress > s.Progress {
				s.Progress = progress
			}
			s.ProcessedFiles = i
		})

		record := w.processFile(path)
		if !record.Success {
			failed++
			m.FilesProcessed.WithLabelValues("failed").Inc()
		} else {
			m.FilesProcessed.WithLabelValues("success").Inc()
		}
		records = append(records, record)
		w.manager.SaveFileRecord(ctx, id, record)
	}

	embeddings := w.generateEmbeddings(ctx, records)

	groups, err := w.grouper.FindGroups(records, embeddings)
	if err != nil {
		w.failSession(ctx, id, fmt.Errorf("duplicate grouping: %w", err))
		return
	}

	stats := buildStats(records, groups, failed)

	if err := w.manager.Update(ctx, id, func(s *models.UploadSession) {
		s.Status = models.SessionStatusCompleted
		s.Progress = 100
		s.ProcessedFiles = stats.SuccessfulFiles
		s.FailedFiles = stats.FailedFiles
		s.DuplicateGroups = groups
		s.ProcessingStats = &stats
	}); err != nil {
		w.failSession(ctx, id, err)
		return
	}

	m.SessionsProcessed.WithLabelValues(string(models.SessionStatusCompleted)).Inc()
	m.SessionDuration.Observe(time.Since(began).Seconds())
	m.DuplicateGroupsFound.Observe(float64(stats.DuplicateGroups))
	m.BytesReclaimable.Add(float64(stats.BytesReclaimable))

	w.logger.Info().
		Str("session_id", id.String()).
		Int("total_files", stats.TotalFiles).
		Int("failed_files", stats.FailedFiles).
		Int("duplicate_groups", stats.DuplicateGroups).
		Int64("bytes_reclaimable", stats.BytesReclaimable).
		Dur("duration", time.Since(began)).
		Msg("Session completed")
}

// processFile normalizes one ingested file. Failures are recorded on the
// returned record, never raised.
func (w *Worker) processFile(path string) *models.FileRecord {
	name := filepath.Base(path)

	info, statErr := os.Stat(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		return &models.FileRecord{
			ID:       uuid.NewString(),
			Name:     name,
			MimeType: "application/octet-stream",
			Success:  false,
			Error:    fmt.Sprintf("read file: %v", err),
		}
	}

	mime := normalize.DetectMime(name, "")
	record := w.normalizer.Normalize(raw, name, mime)
	record.ID = uuid.NewString()
	if statErr == nil {
		mt := info.ModTime().UTC()
		record.ModifiedTime = &mt
	}
	return record
}

// generateEmbeddings batches all text and image payloads of the run
// through the embedding cache. The two kinds run concurrently. A failed
// batch degrades the affected files to hash/text-only grouping; it never
// fails the session.
func (w *Worker) generateEmbeddings(ctx context.Context, records []*models.FileRecord) map[string]dedupe.EmbeddingRef {
	var textRecords, imageRecords []*models.FileRecord
	var textItems, imageItems []embedding.Item

	for _, r := range records {
		if !r.Success {
			continue
		}
		if r.HasText() {
			textRecords = append(textRecords, r)
			textItems = append(textItems, embedding.Item{Content: r.TextContent, Hash: r.SHA256})
		} else if r.HasImage() {
			imageRecords = append(imageRecords, r)
			imageItems = append(imageItems, embedding.Item{Content: r.ImageContent, Hash: r.SHA256})
		}
	}

	refs := make(map[string]dedupe.EmbeddingRef)
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)

	runBatch := func(kind models.EmbeddingKind, recs []*models.FileRecord, items []embedding.Item, gen embedding.Generator) {
		if len(items) == 0 || gen == nil {
			return
		}
		eg.Go(func() error {
			began := time.Now()
			vectors, hits, err := w.cache.GetOrGenerate(egCtx, kind, items, gen)
			logging.LogEmbeddingBatch(string(kind), len(items), countHits(hits), time.Since(began), err)
			if err != nil {
				// Degrade: hash and text stages still run for these files.
				w.logger.Warn().Err(err).Str("kind", string(kind)).
					Msg("Embedding generation failed, degrading to hash/text grouping")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for i, r := range recs {
				refs[r.ID] = dedupe.EmbeddingRef{Kind: kind, Vector: vectors[i]}
			}
			return nil
		})
	}

	runBatch(models.EmbeddingKindText, textRecords, textItems, w.textGen)
	runBatch(models.EmbeddingKindImage, imageRecords, imageItems, w.imageGen)
	_ = eg.Wait()

	w.persistEmbeddings(ctx, records, refs)
	return refs
}

// persistEmbeddings writes generated vectors through the durable embedding
// store so later sessions and the search API can reuse them.
func (w *Worker) persistEmbeddings(ctx context.Context, records []*models.FileRecord, refs map[string]dedupe.EmbeddingRef) {
	if w.embStore == nil {
		return
	}
	for _, r := range records {
		ref, ok := refs[r.ID]
		if !ok {
			continue
		}
		if err := w.embStore.UpsertEmbedding(ctx, models.FileEmbedding{
			FileID:    r.ID,
			Kind:      ref.Kind,
			SHA256:    r.SHA256,
			Embedding: ref.Vector,
		}); err != nil {
			w.logger.Warn().Err(err).Str("file_id", r.ID).Msg("Failed to persist embedding")
		}
	}
}

// failSession transitions the session to failed with the captured message,
// leaving all prior state inspectable.
func (w *Worker) failSession(ctx context.Context, id uuid.UUID, cause error) {
	w.logger.Error().Err(cause).Str("session_id", id.String()).Msg("Session processing failed")

	if err := w.manager.Update(ctx, id, func(s *models.UploadSession) {
		s.Status = models.SessionStatusFailed
		s.ErrorMessage = cause.Error()
	}); err != nil {
		w.logger.Error().Err(err).Str("session_id", id.String()).Msg("Failed to record session failure")
	}
	monitoring.Get().SessionsProcessed.WithLabelValues(string(models.SessionStatusFailed)).Inc()
}

func buildStats(records []*models.FileRecord, groups []models.DuplicateGroup, failed int) models.ProcessingStats {
	stats := models.ProcessingStats{
		TotalFiles:      len(records),
		SuccessfulFiles: len(records) - failed,
		FailedFiles:     failed,
		DuplicateGroups: len(groups),
	}
	for _, r := range records {
		if r.HasText() {
			stats.TextFiles++
		}
		if r.HasImage() {
			stats.ImageFiles++
		}
	}
	for _, g := range groups {
		stats.TotalDuplicates += len(g.Duplicates)
		stats.BytesReclaimable += g.TotalSizeSaved
	}
	return stats
}

func countHits(hits []bool) int {
	n := 0
	for _, h := range hits {
		if h {
			n++
		}
	}
	return n
}
