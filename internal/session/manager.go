package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidyfile/tidyfile/internal/config"
	"github.com/tidyfile/tidyfile/internal/logging"
	"github.com/tidyfile/tidyfile/internal/models"
	"github.com/tidyfile/tidyfile/internal/monitoring"
)

// Manager errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAccessDenied    = errors.New("session owned by another user")
	ErrInvalidState    = errors.New("session is in the wrong state for this operation")
	ErrFileTooLarge    = errors.New("file exceeds the maximum allowed size")
	ErrTooManyFiles    = errors.New("too many files in one upload batch")
	ErrNoFiles         = errors.New("no files found to process")
)

const resultsFileName = "results.json"

// Manager owns the lifecycle of upload sessions: creation, ingestion into
// per-session temp storage, state mutation with durable persistence, and
// TTL-based cleanup. Every mutation is written through to the store and
// mirrored into the session's results.json so state survives a crash.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.UploadSession

	store    Store
	tempBase string
	ttl      time.Duration
	upload   config.UploadConfig
	logger   zerolog.Logger
}

// NewManager creates a session manager rooted at the configured temp
// directory.
func NewManager(cfg *config.SessionConfig, upload *config.UploadConfig, store Store) (*Manager, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session temp dir: %w", err)
	}
	return &Manager{
		sessions: make(map[uuid.UUID]*models.UploadSession),
		store:    store,
		tempBase: cfg.TempDir,
		ttl:      cfg.TTL,
		upload:   *upload,
		logger:   logging.NewLogger("session-manager"),
	}, nil
}

// CreateSession allocates a new session with backing temp storage.
func (m *Manager) CreateSession(ctx context.Context, ownerID string) (*models.UploadSession, error) {
	id := uuid.New()
	tempDir := filepath.Join(m.tempBase, id.String())
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session storage: %w", err)
	}

	sess := &models.UploadSession{
		ID:        id,
		OwnerID:   ownerID,
		CreatedAt: time.Now().UTC(),
		Status:    models.SessionStatusUploading,
		TempDir:   tempDir,
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.persist(ctx, sess)
	monitoring.Get().SessionsCreated.Inc()
	logging.LogSessionEvent(id.String(), ownerID, string(sess.Status), 0)

	return sess, nil
}

// GetSession returns a point-in-time snapshot of the session. Readers see
// eventually-consistent state; only Update mutates the live record.
func (m *Manager) GetSession(id uuid.UUID) (*models.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	snapshot := *sess
	return &snapshot, nil
}

// GetOwnedSession returns the session only to its owner.
func (m *Manager) GetOwnedSession(id uuid.UUID, ownerID string) (*models.UploadSession, error) {
	sess, err := m.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, ErrAccessDenied
	}
	return sess, nil
}

// SaveUpload writes one raw file into the session's temp storage during
// ingestion. Limits are enforced here, before any processing starts.
func (m *Manager) SaveUpload(ctx context.Context, id uuid.UUID, name string, data []byte) error {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.RUnlock()
		return ErrSessionNotFound
	}
	status := sess.Status
	tempDir := sess.TempDir
	m.mu.RUnlock()

	if status != models.SessionStatusUploading {
		return fmt.Errorf("%w: status %s", ErrInvalidState, status)
	}

	if int64(len(data)) > m.upload.MaxFileSizeBytes {
		return fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, name, len(data))
	}

	uploads, err := m.ListUploads(id)
	if err != nil {
		return err
	}
	if len(uploads) >= m.upload.MaxFilesPerBatch {
		return fmt.Errorf("%w: limit %d", ErrTooManyFiles, m.upload.MaxFilesPerBatch)
	}

	// Uploaded names are untrusted; keep only the base name.
	target := filepath.Join(tempDir, filepath.Base(name))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write upload: %w", err)
	}
	return nil
}

// FinishIngestion seals the upload phase: the file count becomes the
// session's total and the session moves to uploaded.
func (m *Manager) FinishIngestion(ctx context.Context, id uuid.UUID) (int, error) {
	sess, err := m.GetSession(id)
	if err != nil {
		return 0, err
	}

	uploads, err := m.ListUploads(id)
	if err != nil {
		return 0, err
	}

	if err := m.Update(ctx, id, func(s *models.UploadSession) {
		s.TotalFiles = len(uploads)
		s.Status = models.SessionStatusUploaded
	}); err != nil {
		return 0, err
	}

	logging.LogSessionEvent(id.String(), sess.OwnerID, string(models.SessionStatusUploaded), sess.Progress)
	return len(uploads), nil
}

// ListUploads returns the ingested file paths in deterministic name order.
func (m *Manager) ListUploads(id uuid.UUID) ([]string, error) {
	sess, err := m.GetSession(id)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(sess.TempDir)
	if err != nil {
		return nil, fmt.Errorf("read session storage: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == resultsFileName {
			continue
		}
		paths = append(paths, filepath.Join(sess.TempDir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Update applies a mutation to the session under the manager lock and
// persists the result durably. Persistence failures are logged, not fatal:
// the in-memory record stays authoritative for status reads.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, mutate func(*models.UploadSession)) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	mutate(sess)
	snapshot := *sess
	m.mu.Unlock()

	m.persist(ctx, &snapshot)
	return nil
}

// persist writes the session to the durable store and mirrors it into
// results.json inside the session's temp directory.
func (m *Manager) persist(ctx context.Context, sess *models.UploadSession) {
	if m.store != nil {
		if err := m.store.SaveSession(ctx, sess); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to persist session state")
		}
	}

	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to encode session state")
		return
	}
	target := filepath.Join(sess.TempDir, resultsFileName)
	if err := os.WriteFile(target, raw, 0o644); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to write results file")
	}
}

// SaveFileRecord persists one normalized file record for the session.
func (m *Manager) SaveFileRecord(ctx context.Context, id uuid.UUID, f *models.FileRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveFile(ctx, id, f); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id.String()).Str("file", f.Name).Msg("Failed to persist file record")
	}
}

// DeleteSession removes the session immediately and unconditionally: temp
// storage, durable record, and in-memory entry.
func (m *Manager) DeleteSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if err := os.RemoveAll(sess.TempDir); err != nil {
		m.logger.Warn().Err(err).Str("session_id", id.String()).Msg("Failed to remove session storage")
	}
	if m.store != nil {
		if err := m.store.DeleteSession(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("session_id", id.String()).Msg("Failed to delete persisted session")
		}
	}

	m.logger.Info().Str("session_id", id.String()).Msg("Session deleted")
	return nil
}

// CleanupExpired deletes sessions older than the configured TTL and
// returns how many were removed.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-m.ttl)

	m.mu.RLock()
	var expired []uuid.UUID
	for id, sess := range m.sessions {
		if sess.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		if err := m.DeleteSession(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("session_id", id.String()).Msg("Failed to clean up expired session")
		}
	}

	if len(expired) > 0 {
		m.logger.Info().Int("count", len(expired)).Msg("Expired sessions cleaned up")
	}
	return len(expired)
}
