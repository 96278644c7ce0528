// Package api exposes the catalog over HTTP: image submission,
// classification, prediction aggregation, training control and taxonomy
// lookups.
package api

import (
	"context"
	"io"
	stdlog "log"
	"log/slog"
	"net/http"
	"time"

	"github.com/acrenier/imagerie/internal/blobstore"
	"github.com/acrenier/imagerie/internal/classifier"
	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/datastore"
	"github.com/acrenier/imagerie/internal/jobqueue"
	"github.com/acrenier/imagerie/internal/logging"
	"github.com/acrenier/imagerie/internal/observability"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log *slog.Logger

func init() {
	var err error
	log, _, err = logging.NewFileLogger("logs/api.log", "api", slog.LevelInfo)
	if err != nil || log == nil {
		stdlog.Printf("Failed to initialize api file logger: %v", err)
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Resolver looks up an external taxonomy id for a clean name.
type Resolver interface {
	Resolve(ctx context.Context, cleanName string) (int64, bool, error)
}

// Server wires the HTTP routes to the application services.
type Server struct {
	Echo     *echo.Echo
	store    datastore.Interface
	blobs    *blobstore.Store
	manager  *classifier.Manager
	queue    *jobqueue.Queue
	resolver Resolver
	metrics  *observability.Metrics
	settings *conf.Settings
}

// New builds the server and registers all routes.
func New(settings *conf.Settings, store datastore.Interface, blobs *blobstore.Store, manager *classifier.Manager, queue *jobqueue.Queue, resolver Resolver, metrics *observability.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Echo:     e,
		store:    store,
		blobs:    blobs,
		manager:  manager,
		queue:    queue,
		resolver: resolver,
		metrics:  metrics,
		settings: settings,
	}

	e.Use(middleware.Recover())
	e.Use(s.metricsMiddleware)

	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.Echo.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.Echo.Group("/api/v1")
	v1.POST("/images", s.handleSubmitImage)
	v1.GET("/images/:id/predictions", s.handleImagePredictions)
	v1.GET("/images/:id/species", s.handleImageSpecies)
	v1.POST("/images/:id/classify", s.handleClassify)
	v1.GET("/classifiers", s.handleListClassifiers)
	v1.POST("/classifiers/:id/train", s.handleTrain)
	v1.GET("/jobs/:id", s.handleJobStatus)
	v1.GET("/taxonomy/resolve", s.handleTaxonomyResolve)
}

// metricsMiddleware records request counts and latency.
func (s *Server) metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.metrics == nil {
			return next(c)
		}
		start := time.Now()
		err := next(c)
		status := c.Response().Status
		if err != nil {
			if httpErr, ok := err.(*echo.HTTPError); ok {
				status = httpErr.Code
			} else {
				status = http.StatusInternalServerError
			}
		}
		path := c.Path()
		s.metrics.HTTP.RecordRequest(c.Request().Method, path, status)
		s.metrics.HTTP.ObserveRequestDuration(c.Request().Method, path, time.Since(start).Seconds())
		return err
	}
}

// Start begins serving on the configured port. Blocks until shutdown.
func (s *Server) Start() error {
	addr := ":" + s.settings.WebServer.Port
	log.Info("Starting HTTP server", "addr", addr)
	if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
