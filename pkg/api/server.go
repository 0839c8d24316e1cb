// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api is the HTTP surface over the resolution layer. Handlers
// fetch already-materialized rows, run the pure pipeline, and reply
// with a typed envelope; they hold no state of their own.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/attribution/pkg/aggregate"
	"github.com/luxfi/attribution/pkg/attribution"
	"github.com/luxfi/attribution/pkg/cache"
	"github.com/luxfi/attribution/pkg/log"
	"github.com/luxfi/attribution/pkg/metric"
	"github.com/luxfi/attribution/pkg/refconfig"
	"github.com/luxfi/attribution/pkg/warehouse"
)

// Store materializes row sets from the warehouse. *warehouse.Client
// satisfies it; tests substitute fixtures.
type Store interface {
	FetchImpressions(ctx context.Context, q warehouse.Query) ([]attribution.ImpressionEvent, error)
	FetchConversionFlags(ctx context.Context, q warehouse.Query) ([]attribution.ConversionFlag, error)
	FetchPreAggregated(ctx context.Context, q warehouse.Query, dim aggregate.Dimension) (aggregate.Result, error)
	FetchHouseholds(ctx context.Context, q warehouse.Query) (attribution.StaticHouseholds, error)
	FetchPopulation(ctx context.Context) (aggregate.StaticPopulation, error)
}

// Server wires the resolution pipeline behind gin.
type Server struct {
	store    Store
	resolver *refconfig.Resolver
	cache    *cache.Cache // nil disables response caching
	metrics  *metric.Metrics
	registry *prometheus.Registry
	log      log.Logger
}

// Config assembles a Server.
type Config struct {
	Store    Store
	Resolver *refconfig.Resolver
	Cache    *cache.Cache
	Logger   log.Logger
}

// New builds a Server with its own metrics registry.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoOp()
	}
	registry := prometheus.NewRegistry()
	return &Server{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		cache:    cfg.Cache,
		metrics:  metric.New(registry),
		registry: registry,
		log:      logger,
	}
}

// Metrics exposes the server's instruments so the process can record
// events originating outside request handlers.
func (s *Server) Metrics() *metric.Metrics {
	return s.metrics
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestID(), s.timing())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsCfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.GET("/advertisers/:id/summary", s.handleSummary)
		api.GET("/advertisers/:id/timeseries", s.handleTimeseries)
		api.GET("/advertisers/:id/availability", s.handleAvailability)
		api.GET("/advertisers/:id/dimensions/:dimension", s.handleDimension)
		api.GET("/advertisers/:id/recommendations/:dimension", s.handleRecommendations)
		api.GET("/advertisers/:id/lift", s.handleLift)
	}

	return router
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) timing() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if route := c.FullPath(); route != "" {
			s.metrics.ResolveDuration.WithLabelValues(route).
				Observe(time.Since(start).Seconds())
		}
	}
}
