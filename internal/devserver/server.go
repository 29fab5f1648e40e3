// Package devserver is a local stand-in for the document extraction service.
// It accepts uploads, simulates upload and processing progress, and serves the
// job/batch endpoints and the progress websocket the tracker consumes.
package devserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/clinops/intake-tracker/internal/channel"
	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/version"
)

// Options configures the dev server.
type Options struct {
	// TwoPhase answers uploads with an upload job and a processing job
	// instead of a single job.
	TwoPhase bool
	// StepInterval is the simulated processing time per file.
	StepInterval time.Duration
	// Quota is the number of documents accepted before uploads are refused.
	Quota int
	// APIKey, when set, is required as a bearer token on every /api request.
	APIKey string
	// Publishers receive every update in addition to the websocket hub.
	Publishers []Publisher
}

// Server is the dev extraction service.
type Server struct {
	router *gin.Engine
	store  *Store
	hub    *Hub
	sim    *Simulator
	opts   Options
	logger *logging.Logger
}

// New builds the server and its routes.
func New(opts Options, logger *logging.Logger) *Server {
	if opts.StepInterval <= 0 {
		opts.StepInterval = constants.DevServerStepInterval
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.Named("devserver")

	s := &Server{
		store:  NewStore(opts.Quota),
		opts:   opts,
		logger: logger,
	}
	s.hub = NewHub(s.current, logger)
	pubs := append(Publishers{s.hub}, opts.Publishers...)
	s.sim = NewSimulator(s.store, pubs, opts.StepInterval, opts.TwoPhase, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/api/health", s.handleHealth)
	api := router.Group("/api")
	api.Use(s.requireKey())
	{
		api.POST("/documents/upload", s.handleUpload)
		api.GET("/jobs/:id", s.handleJob)
		api.GET("/batches/:id", s.handleBatch)
		api.GET(strings.TrimPrefix(channel.WebSocketPath, "/api"), s.hub.ServeWS)
	}
	s.router = router
	return s
}

// Handler returns the HTTP handler, for httptest or a custom listener.
func (s *Server) Handler() nethttp.Handler {
	return s.router
}

// Store exposes the record store.
func (s *Server) Store() *Store {
	return s.store
}

// Hub exposes the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &nethttp.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info().Str("addr", addr).Bool("two_phase", s.opts.TwoPhase).Msg("Dev extraction service listening")

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	err := srv.Shutdown(shutdownCtx)
	s.sim.Close()
	return err
}

// Close stops simulations and disconnects websocket clients.
func (s *Server) Close() {
	s.sim.Close()
	s.hub.Close()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request")
	}
}

func (s *Server) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.APIKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+s.opts.APIKey {
			c.AbortWithStatusJSON(nethttp.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "missing or invalid API key",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(nethttp.StatusOK, gin.H{
		"status":  "ok",
		"service": "intake-devserver",
		"version": version.Version,
	})
}

type uploadReply struct {
	JobID           string        `json:"jobId,omitempty"`
	UploadJobID     string        `json:"uploadJobId,omitempty"`
	ProcessingJobID string        `json:"processingJobId,omitempty"`
	BatchID         string        `json:"batchId,omitempty"`
	PayloadCount    int           `json:"payloadCount"`
	IgnoredCount    int           `json:"ignoredCount"`
	Ignored         []models.Item `json:"ignored,omitempty"`
	Message         string        `json:"message,omitempty"`
	Manifest        []string      `json:"manifest,omitempty"`
}

func (s *Server) handleUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "send documents as multipart/form-data",
		})
		return
	}
	defer form.RemoveAll()

	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}
	if len(headers) == 0 {
		c.JSON(nethttp.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "no documents in request",
		})
		return
	}

	uploads := make([]upload, 0, len(headers))
	for _, fh := range headers {
		digest, err := digestOf(fh)
		if err != nil {
			c.JSON(nethttp.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": fmt.Sprintf("could not read %s", fh.Filename),
			})
			return
		}
		uploads = append(uploads, upload{Name: fh.Filename, Digest: digest})
	}

	accepted, ignored := s.store.Admit(uploads)
	reply := uploadReply{
		PayloadCount: len(accepted),
		IgnoredCount: len(ignored),
		Ignored:      ignored,
		Message:      ignoreMessage(ignored),
	}

	s.logger.Info().
		Str("patient", c.PostForm("patientId")).
		Int("received", len(uploads)).
		Int("accepted", len(accepted)).
		Int("ignored", len(ignored)).
		Msg("Upload received")

	if len(accepted) == 0 {
		c.JSON(nethttp.StatusUnprocessableEntity, reply)
		return
	}

	sub := s.sim.Begin(lo.Map(accepted, func(u upload, _ int) string { return u.Name }))
	reply.JobID = sub.JobID
	reply.UploadJobID = sub.UploadJobID
	reply.ProcessingJobID = sub.ProcessingJobID
	reply.BatchID = sub.BatchID
	reply.Manifest = sub.Manifest
	c.JSON(nethttp.StatusOK, reply)
}

func (s *Server) handleJob(c *gin.Context) {
	job, ok := s.store.Job(c.Param("id"))
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "job not found"})
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"job": job})
}

func (s *Server) handleBatch(c *gin.Context) {
	batch, ok := s.store.Batch(c.Param("id"))
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "batch not found"})
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"batch": batch})
}

// current encodes the latest record for a websocket subscriber.
func (s *Server) current(id string) ([]byte, bool) {
	if job, ok := s.store.Job(id); ok {
		return encodeJob(job), true
	}
	if batch, ok := s.store.Batch(id); ok {
		return encodeBatch(batch), true
	}
	return nil, false
}

func ignoreMessage(ignored []models.Item) string {
	switch {
	case lo.ContainsBy(ignored, func(it models.Item) bool { return it.Message == ReasonQuota }):
		return "Upgrade your plan to process more documents."
	case len(ignored) > 0:
		return "Duplicate documents are not processed again."
	}
	return ""
}

func digestOf(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
