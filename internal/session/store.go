package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tidyfile/tidyfile/internal/models"
	"github.com/tidyfile/tidyfile/internal/monitoring"
)

// Store is the durable persistence surface for sessions. Session state is
// written after every mutation so a crash mid-run leaves the last-known
// state recoverable.
type Store interface {
	SaveSession(ctx context.Context, s *models.UploadSession) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	SaveFile(ctx context.Context, sessionID uuid.UUID, f *models.FileRecord) error
}

// PgStore persists sessions and their file records in Postgres.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a session store over the shared connection pool
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// SaveSession upserts the full session row, including the grouped results
// and stats as jsonb.
func (s *PgStore) SaveSession(ctx context.Context, sess *models.UploadSession) error {
	began := time.Now()
	defer func() {
		monitoring.Get().DBQueryDuration.WithLabelValues("save_session").Observe(time.Since(began).Seconds())
	}()

	groups, err := json.Marshal(sess.DuplicateGroups)
	if err != nil {
		return fmt.Errorf("encode duplicate groups: %w", err)
	}
	var stats []byte
	if sess.ProcessingStats != nil {
		if stats, err = json.Marshal(sess.ProcessingStats); err != nil {
			return fmt.Errorf("encode processing stats: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO upload_sessions
			(id, owner_id, created_at, status, progress, total_files,
			 processed_files, failed_files, duplicate_groups, processing_stats,
			 error_message, temp_dir, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			total_files = EXCLUDED.total_files,
			processed_files = EXCLUDED.processed_files,
			failed_files = EXCLUDED.failed_files,
			duplicate_groups = EXCLUDED.duplicate_groups,
			processing_stats = EXCLUDED.processing_stats,
			error_message = EXCLUDED.error_message,
			updated_at = now()`,
		sess.ID, sess.OwnerID, sess.CreatedAt, string(sess.Status), sess.Progress,
		sess.TotalFiles, sess.ProcessedFiles, sess.FailedFiles, groups, stats,
		sess.ErrorMessage, sess.TempDir,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// DeleteSession removes the session row and its file records.
func (s *PgStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	began := time.Now()
	defer func() {
		monitoring.Get().DBQueryDuration.WithLabelValues("delete_session").Observe(time.Since(began).Seconds())
	}()

	if _, err := s.pool.Exec(ctx, `DELETE FROM files WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete session files: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM upload_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SaveFile persists one normalized file record for a session.
func (s *PgStore) SaveFile(ctx context.Context, sessionID uuid.UUID, f *models.FileRecord) error {
	began := time.Now()
	defer func() {
		monitoring.Get().DBQueryDuration.WithLabelValues("save_file").Observe(time.Since(began).Seconds())
	}()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (id, session_id, name, mime_type, size_bytes, sha256, success, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (id) DO UPDATE SET
			sha256 = EXCLUDED.sha256,
			success = EXCLUDED.success,
			error = EXCLUDED.error`,
		f.ID, sessionID, f.Name, f.MimeType, f.SizeBytes, f.SHA256, f.Success, f.Error,
	)
	if err != nil {
		return fmt.Errorf("save file record: %w", err)
	}
	return nil
}
