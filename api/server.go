// Package api exposes the order service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient/order"
	"github.com/terraskye/esclient/projection"
)

// Server is the HTTP server for the API
type Server struct {
	address    string
	router     *gin.Engine
	httpServer *http.Server
	orders     *order.Service
	views      projection.Repository
	gatherer   prometheus.Gatherer
	log        *logrus.Entry
}

type Option func(*Server)

// WithMetricsGatherer serves the gathered metrics on GET /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Server) { s.log = log }
}

// NewServer creates a new API server
func NewServer(address string, orders *order.Service, views projection.Repository, opts ...Option) *Server {
	server := &Server{
		address: address,
		router:  gin.New(),
		orders:  orders,
		views:   views,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(server)
	}
	server.log = server.log.WithField("component", "api")

	server.setupMiddleware()
	server.setupRoutes()
	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware(s.log))
}

func (s *Server) setupRoutes() {
	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	orders := s.router.Group("/orders")
	{
		orders.POST("", s.placeOrder)
		orders.GET("/:id", s.getOrder)
		orders.GET("/:id/events", s.getOrderEvents)
		orders.POST("/:id/accept", s.acceptOrder)
		orders.POST("/:id/complete", s.completeOrder)
		orders.POST("/:id/cancel", s.cancelOrder)
	}

	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Infof("HTTP server starting on %s", s.address)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
