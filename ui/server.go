package ui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"trialsim/internal"
	"trialsim/internal/api"
	"trialsim/internal/metrics"
	"trialsim/ports"
	"trialsim/ui/middleware"

	"github.com/gin-gonic/gin"
)

// Server is the interactive HTTP server: JSON API, job progress over SSE,
// metrics and optional profiling.
type Server struct {
	router  *gin.Engine
	svc     *api.Service
	hub     *api.SSEHub
	metrics *metrics.Metrics
	users   ports.UserRepository
	logger  *internal.Logger
	http    *http.Server
}

// Options configure a Server
type Options struct {
	GinMode string
	// Profiling mounts net/http/pprof under /debug/pprof
	Profiling bool
	Users     ports.UserRepository
	Metrics   *metrics.Metrics
	Logger    *internal.Logger
}

// NewServer creates a new web server instance
func NewServer(svc *api.Service, hub *api.SSEHub, opts Options) *Server {
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = internal.DefaultLogger
	}

	s := &Server{
		router:  gin.New(),
		svc:     svc,
		hub:     hub,
		metrics: opts.Metrics,
		users:   opts.Users,
		logger:  logger.WithComponent("Server"),
	}
	s.setupMiddleware()
	s.setupRoutes(opts.Profiling)
	return s
}

// setupMiddleware configures Gin middleware
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestLogger(s.logger))
	if s.metrics != nil {
		s.router.Use(middleware.Metrics(s.metrics))
	}
	s.router.Use(middleware.EnsureDefaultUser(s.users, s.logger))
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes(profiling bool) {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/defaults", func(c *gin.Context) {
			respond(c, s.svc.Defaults())
		})
		apiGroup.POST("/simulations", func(c *gin.Context) {
			respond(c, s.svc.Simulate(c.Request.Context(), c.Request.Body))
		})
		apiGroup.POST("/batches", func(c *gin.Context) {
			respond(c, s.svc.RunBatch(c.Request.Context(), c.Request.Body))
		})
		apiGroup.GET("/stats", func(c *gin.Context) {
			respond(c, s.svc.Stats(c.Request.Context()))
		})

		apiGroup.GET("/jobs", func(c *gin.Context) {
			respond(c, s.svc.ListJobs(c.Query("limit"), c.Query("offset")))
		})
		apiGroup.POST("/jobs", func(c *gin.Context) {
			respond(c, s.svc.SubmitJob(c.Request.Body))
		})
		apiGroup.GET("/jobs/:id", func(c *gin.Context) {
			respond(c, s.svc.GetJob(c.Param("id")))
		})
		apiGroup.DELETE("/jobs/:id", func(c *gin.Context) {
			respond(c, s.svc.CancelJob(c.Param("id")))
		})
		if s.hub != nil {
			apiGroup.GET("/jobs/:id/events", s.hub.HandleSSE)
			apiGroup.GET("/events", s.hub.HandleSSE)
		}

		apiGroup.GET("/runs", func(c *gin.Context) {
			respond(c, s.svc.ListRuns(c.Request.Context(), c.Query("limit"), c.Query("offset")))
		})
		apiGroup.GET("/runs/:id", func(c *gin.Context) {
			respond(c, s.svc.GetRun(c.Request.Context(), c.Param("id")))
		})
		apiGroup.POST("/runs/:id/replay", func(c *gin.Context) {
			respond(c, s.svc.ReplayRun(c.Request.Context(), c.Param("id")))
		})
		apiGroup.GET("/runs/:id/export/:format", func(c *gin.Context) {
			s.svc.Export(c.Request.Context(), c.Writer, c.Param("id"), c.Param("format"))
		})
	}

	if profiling {
		s.router.GET("/debug/pprof/", gin.WrapF(pprof.Index))
		s.router.GET("/debug/pprof/:name", profileHandler)
	}
}

func profileHandler(c *gin.Context) {
	switch name := c.Param("name"); name {
	case "cmdline":
		pprof.Cmdline(c.Writer, c.Request)
	case "profile":
		pprof.Profile(c.Writer, c.Request)
	case "symbol":
		pprof.Symbol(c.Writer, c.Request)
	case "trace":
		pprof.Trace(c.Writer, c.Request)
	default:
		pprof.Handler(name).ServeHTTP(c.Writer, c.Request)
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on port until Shutdown is called
func (s *Server) Start(port string) error {
	s.http = &http.Server{
		Addr:              ":" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening on :%s", port)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on port %s: %w", port, err)
	}
	return nil
}

// Shutdown drains open connections and closes SSE streams
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func respond(c *gin.Context, resp api.Response) {
	c.JSON(resp.Status, resp.Body)
}
