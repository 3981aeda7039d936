package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidyfile/tidyfile/internal/config"
	apierrors "github.com/tidyfile/tidyfile/internal/errors"
	"github.com/tidyfile/tidyfile/internal/logging"
	"github.com/tidyfile/tidyfile/internal/middleware"
	"github.com/tidyfile/tidyfile/internal/models"
	"github.com/tidyfile/tidyfile/internal/monitoring"
	"github.com/tidyfile/tidyfile/internal/search"
	"github.com/tidyfile/tidyfile/internal/session"
)

// APIServer represents the main API server
type APIServer struct {
	config   *config.Config
	router   *gin.Engine
	sessions *session.Manager
	worker   *session.Worker
	search   *search.Service
	health   func() error
}

// NewAPIServer creates a new API server instance. healthCheck probes the
// backing stores; nil means no dependency probing.
func NewAPIServer(cfg *config.Config, sessions *session.Manager, worker *session.Worker, searchSvc *search.Service, healthCheck func() error) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:   cfg,
		router:   router,
		sessions: sessions,
		worker:   worker,
		search:   searchSvc,
		health:   healthCheck,
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthCheck)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		// Session routes (caller identity resolved upstream)
		sessions := v1.Group("/sessions")
		sessions.Use(middleware.RequireOwner())
		{
			sessions.POST("", s.handleCreateSession)
			sessions.POST("/:id/files", s.handleUploadFiles)
			sessions.POST("/:id/process", s.handleStartProcessing)
			sessions.GET("/:id", s.handleGetSession)
			sessions.DELETE("/:id", s.handleDeleteSession)
		}

		// Similarity search routes
		searchGroup := v1.Group("/search")
		searchGroup.Use(middleware.RequireOwner())
		{
			searchGroup.POST("/similar", s.handleSearchSimilar)
		}
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	if s.health != nil {
		if err := s.health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "api",
				"error":   err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "api",
	})
}

// handleCreateSession starts a new upload session for the caller.
func (s *APIServer) handleCreateSession(c *gin.Context) {
	ownerID := middleware.GetOwnerIDFromContext(c)

	sess, err := s.sessions.CreateSession(c.Request.Context(), ownerID)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"status":     sess.Status,
		"created_at": sess.CreatedAt,
	})
}

// handleUploadFiles ingests one or more multipart files into the session.
func (s *APIServer) handleUploadFiles(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Expected multipart form upload"))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		respondError(c, apierrors.NewInvalidRequestError("No files in upload"))
		return
	}

	accepted := make([]string, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			respondError(c, apierrors.NewInvalidRequestError("Unreadable file in upload"))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondError(c, apierrors.NewInvalidRequestError("Unreadable file in upload"))
			return
		}

		if err := s.sessions.SaveUpload(c.Request.Context(), sess.ID, fh.Filename, data); err != nil {
			respondSessionError(c, err, fh.Filename, s.config)
			return
		}
		accepted = append(accepted, fh.Filename)
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"accepted":   accepted,
	})
}

// handleStartProcessing seals ingestion and queues the session for the
// background worker. A full queue rejects the request; the session stays
// uploaded and the caller may retry.
func (s *APIServer) handleStartProcessing(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}

	if sess.Status != models.SessionStatusUploading && sess.Status != models.SessionStatusUploaded {
		respondError(c, apierrors.ErrSessionNotReadyError)
		return
	}

	count, err := s.sessions.FinishIngestion(c.Request.Context(), sess.ID)
	if err != nil {
		respondSessionError(c, err, "", s.config)
		return
	}

	if err := s.worker.Enqueue(sess.ID); err != nil {
		respondError(c, apierrors.ErrQueueFullError)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"session_id":  sess.ID,
		"status":      models.SessionStatusUploaded,
		"total_files": count,
	})
}

// handleGetSession returns the polling view of a session.
func (s *APIServer) handleGetSession(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.StatusView())
}

// handleDeleteSession removes the session and all its stored data.
func (s *APIServer) handleDeleteSession(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}

	if err := s.sessions.DeleteSession(c.Request.Context(), sess.ID); err != nil {
		respondSessionError(c, err, "", s.config)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "status": "deleted"})
}

// searchRequest is the similarity search payload.
type searchRequest struct {
	Embedding         []float32 `json:"embedding" binding:"required"`
	Kind              string    `json:"kind"`
	DistanceThreshold float64   `json:"distance_threshold"`
	Limit             int       `json:"limit"`
	Offset            int       `json:"offset"`
	ExcludeFileID     string    `json:"exclude_file_id"`
}

// handleSearchSimilar runs a paginated nearest-neighbour query over the
// stored embeddings.
func (s *APIServer) handleSearchSimilar(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	if req.Kind == "" {
		req.Kind = string(models.EmbeddingKindText)
	}
	if req.DistanceThreshold == 0 {
		req.DistanceThreshold = 1
	}

	resp, err := s.search.Search(c.Request.Context(), search.Request{
		Embedding:         req.Embedding,
		Kind:              models.EmbeddingKind(req.Kind),
		DistanceThreshold: req.DistanceThreshold,
		Limit:             req.Limit,
		Offset:            req.Offset,
		ExcludeFileID:     req.ExcludeFileID,
	})
	if err != nil {
		switch {
		case errors.Is(err, search.ErrInvalidQuery):
			respondError(c, apierrors.NewValidationError(err.Error()))
		case errors.Is(err, search.ErrSearchUnavailable):
			respondError(c, apierrors.ErrSearchUnavailableError)
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ownedSession resolves the :id path parameter to a session owned by the
// caller, writing the error response itself on failure.
func (s *APIServer) ownedSession(c *gin.Context) (*models.UploadSession, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid session id"))
		return nil, false
	}

	sess, err := s.sessions.GetOwnedSession(id, middleware.GetOwnerIDFromContext(c))
	if err != nil {
		respondSessionError(c, err, "", s.config)
		return nil, false
	}
	return sess, true
}

// respondSessionError maps session layer errors onto API errors.
func respondSessionError(c *gin.Context, err error, fileName string, cfg *config.Config) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(c, apierrors.ErrSessionNotFoundError)
	case errors.Is(err, session.ErrAccessDenied):
		respondError(c, apierrors.ErrAccessDeniedError)
	case errors.Is(err, session.ErrInvalidState):
		respondError(c, apierrors.ErrSessionNotReadyError)
	case errors.Is(err, session.ErrFileTooLarge):
		respondError(c, apierrors.NewFileTooLargeError(fileName, cfg.Upload.MaxFileSizeBytes))
	case errors.Is(err, session.ErrTooManyFiles):
		respondError(c, apierrors.NewTooManyFilesError(cfg.Upload.MaxFilesPerBatch))
	default:
		respondError(c, apierrors.ErrInternalServerError)
	}
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	c.JSON(err.HTTPStatus, apierrors.ErrorResponse{
		Error:     *err,
		RequestID: middleware.GetRequestIDFromContext(c),
	})
}
