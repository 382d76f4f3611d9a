// Package server exposes a detector.Session over HTTP and WebSocket.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/internal/log"
	"github.com/nvr-ai/go-cheatdetect/state"
	"github.com/nvr-ai/go-cheatdetect/video"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
)

// requestIDKey is the gin context key holding the per-request id.
const requestIDKey = "request_id"

// Options tunes the HTTP surface.
type Options struct {
	Addr            string
	MaxUploadBytes  int64
	PreviewSize     uint
	ShutdownTimeout time.Duration
	SampleFrames    int
	ReportFrames    int
	// Autosave persists the session to the store when Run shuts down.
	Autosave bool
}

// MetricsSource reports the profiler view served on /metrics;
// *profiler.RuntimeProfiler satisfies it.
type MetricsSource interface {
	video.OperationTimer
	GetCurrentStats() map[string]interface{}
}

// Server routes requests to one shared Session.
type Server struct {
	session *detector.Session
	store   state.Store
	metrics MetricsSource
	opts    Options

	engine   *gin.Engine
	upgrader websocket.Upgrader
	sockets  cmap.ConcurrentMap[string, *socket]
}

// New builds the router.
//
// Arguments:
// - session: The detection session shared by every request.
// - store: Where /state/save and /state/load persist; nil disables them.
// - metrics: Optional profiler; nil disables /metrics and operation timing.
// - opts: Limits and scan settings.
//
// Returns:
// - A Server ready to Run or to be mounted through Handler.
func New(session *detector.Session, store state.Store, metrics MetricsSource, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	if opts.PreviewSize == 0 {
		opts.PreviewSize = 320
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		session: session,
		store:   store,
		metrics: metrics,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sockets: cmap.New[*socket](),
	}

	router := gin.New()
	_ = router.SetTrustedProxies(nil)
	router.MaxMultipartMemory = opts.MaxUploadBytes
	router.Use(gin.Recovery(), requestLogger)
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/", s.handleRoot)
	router.GET("/health", s.handleHealth)
	router.GET("/stats", s.handleStats)
	router.POST("/detect/image", s.handleDetectImage)
	router.POST("/detect/video", s.handleDetectVideo)
	router.POST("/configure", s.handleConfigure)
	router.POST("/state/save", s.handleStateSave)
	router.POST("/state/load", s.handleStateLoad)
	router.GET("/ws/detect", s.handleWebSocket)
	if metrics != nil {
		router.GET("/metrics", s.handleMetrics)
	}

	s.engine = router
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Connections returns the number of open WebSocket clients.
func (s *Server) Connections() int {
	return s.sockets.Count()
}

// Run serves on opts.Addr until ctx is cancelled, then drains requests,
// closes WebSocket clients and, with Autosave, persists the session.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	s.closeSockets()
	err := srv.Shutdown(shutdownCtx)

	if s.opts.Autosave && s.store != nil {
		if saveErr := s.session.Save(shutdownCtx, s.store); saveErr != nil {
			log.Error("autosave failed", "error", saveErr)
		} else {
			log.Info("state saved on shutdown", "stats", s.session.Stats())
		}
	}

	log.Info("http server stopped")
	return errors.Wrap(err, "shutdown")
}

// timeOperation starts a profiler timer when one is configured.
func (s *Server) timeOperation(name string) func() {
	if s.metrics == nil {
		return func() {}
	}
	return s.metrics.StartOperation(name)
}

// requestLogger tags every request with a uuid and logs its outcome.
func requestLogger(c *gin.Context) {
	id := uuid.NewString()
	c.Set(requestIDKey, id)
	c.Header("X-Request-ID", id)

	start := time.Now()
	c.Next()

	attrs := []any{
		"request_id", id,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	}
	if len(c.Errors) > 0 {
		attrs = append(attrs, "error", c.Errors.String())
	}

	switch {
	case c.Writer.Status() >= http.StatusInternalServerError:
		log.Error("request", attrs...)
	case c.Writer.Status() >= http.StatusBadRequest:
		log.Warn("request", attrs...)
	default:
		log.Debug("request", attrs...)
	}
}
