// Package httpapi exposes the job-facing HTTP surface: upload initiation,
// progress snapshots, a server-sent-events progress stream, cancellation,
// and transcript edits.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/align"
	"github.com/soundlane/audio-pipeline/internal/broker"
	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/state"
	"github.com/soundlane/audio-pipeline/internal/storage"
	"github.com/soundlane/audio-pipeline/internal/transcript"
)

const uploadURLExpiry = 15 * time.Minute

// Server serves the gateway endpoints.
type Server struct {
	state    state.Store
	store    storage.Store
	producer broker.Publisher
	syncer   *transcript.Syncer
	logger   *logrus.Entry
}

// NewServer wires the gateway.
func NewServer(st state.Store, store storage.Store, producer broker.Publisher, syncer *transcript.Syncer) *Server {
	return &Server{
		state:    st,
		store:    store,
		producer: producer,
		syncer:   syncer,
		logger:   logrus.WithField("component", "gateway"),
	}
}

// Router builds the gin engine with all routes bound.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/uploads", s.handleUpload)
	r.GET("/progress/:job_id", s.handleProgress)
	r.GET("/progress/:job_id/stream", s.handleProgressStream)
	r.POST("/jobs/:job_id/cancel", s.handleCancel)
	r.PUT("/jobs/:job_id/transcript", s.handleTranscriptEdit)
	return r
}

type uploadRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
}

// handleUpload issues a presigned PUT URL and registers the job. The
// client uploads directly to the object store and then the storage
// notification (or the client's confirm call) publishes file.uploaded.
func (s *Server) handleUpload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := uuid.NewString()
	key := storage.RawKey(time.Now().UTC(), jobID, req.Filename)
	url, err := s.store.PresignedPutURL(c.Request.Context(), key, req.ContentType, uploadURLExpiry)
	if err != nil {
		s.logger.WithError(err).Error("Presign failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presign failed"})
		return
	}
	if err := s.state.InitJob(c.Request.Context(), jobID, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job init failed"})
		return
	}
	if err := s.producer.Publish(c.Request.Context(), schema.ExchangeMediaEvents, schema.RouteFileUploaded,
		schema.FileUploadedEvent{
			JobID:       jobID,
			UserID:      req.UserID,
			StoragePath: key[:len(key)-len(req.Filename)],
		}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     jobID,
		"upload_url": url,
		"key":        key,
	})
}

// handleProgress returns the current job snapshot, 404 when the job hash
// is absent or expired.
func (s *Server) handleProgress(c *gin.Context) {
	job, err := s.state.GetJob(c.Request.Context(), c.Param("job_id"))
	if errors.Is(err, state.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state read failed"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleProgressStream serves SSE: the current value on subscribe, then
// every published frame, closing after any terminal frame.
func (s *Server) handleProgressStream(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := s.state.GetJob(c.Request.Context(), jobID)
	if errors.Is(err, state.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state read failed"})
		return
	}

	frames, cancel, err := s.state.SubscribeProgress(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	current := schema.ProgressFrame{
		JobID:    jobID,
		Status:   string(job.Status),
		Progress: job.Progress,
		Message:  job.Message,
	}
	c.SSEvent("progress", current)
	c.Writer.Flush()
	if state.Status(current.Status).IsTerminal() {
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case frame, ok := <-frames:
			if !ok {
				return false
			}
			c.SSEvent("progress", frame)
			return !state.Status(frame.Status).IsTerminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// handleCancel publishes the cancel command; the orchestrator owns the
// terminal transition and cleanup.
func (s *Server) handleCancel(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	if err := s.producer.Publish(c.Request.Context(), schema.ExchangeMediaCommands, schema.RouteCmdCancel,
		schema.CancelCommand{
			JobID:  c.Param("job_id"),
			Reason: req.Reason,
		}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

type transcriptEditRequest struct {
	Segments []align.Segment `json:"segments" binding:"required"`
}

// handleTranscriptEdit rewrites the stored transcript artifacts with the
// edited segments. Failures surface synchronously and leave the prior
// artifacts intact.
func (s *Server) handleTranscriptEdit(c *gin.Context) {
	var req transcriptEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.syncer.Sync(c.Request.Context(), c.Param("job_id"), req.Segments); err != nil {
		s.logger.WithError(err).Error("Transcript sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced"})
}
