// Package server exposes the engine over HTTP: recordTurn, buildContext
// and eraseOwner, plus metrics and health. It also owns the background
// consolidation scheduler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid/v4"

	"github.com/lembraai/lembra/ai"
	"github.com/lembraai/lembra/ai/consolidation"
	"github.com/lembraai/lembra/ai/contextbuilder"
	"github.com/lembraai/lembra/ai/core/embedding"
	"github.com/lembraai/lembra/ai/core/llm"
	"github.com/lembraai/lembra/ai/core/retrieval"
	"github.com/lembraai/lembra/ai/enrichment"
	"github.com/lembraai/lembra/ai/facts"
	"github.com/lembraai/lembra/ai/memory"
	"github.com/lembraai/lembra/ai/metrics"
	"github.com/lembraai/lembra/internal/profile"
	"github.com/lembraai/lembra/store"
)

type Server struct {
	e *echo.Echo

	Profile *profile.Profile
	Store   *store.Store

	engine       *memory.Engine
	builder      *contextbuilder.Builder
	consolidator *consolidation.Consolidator
	metrics      *metrics.Exporter

	schedulerStop chan struct{}
	schedulerDone chan struct{}
}

// NewServer wires the full service graph on top of the store.
func NewServer(_ context.Context, instanceProfile *profile.Profile, storeInstance *store.Store, exporter *metrics.Exporter) (*Server, error) {
	cfg := ai.NewConfigFromProfile(instanceProfile)

	var llmService llm.Service
	if cfg.Enabled {
		var err error
		llmService, err = llm.NewService(&llm.Config{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create llm service: %w", err)
		}
	}

	var embeddingService embedding.Service
	if cfg.Embedding.APIKey != "" || cfg.Embedding.Provider == "ollama" {
		var err error
		embeddingService, err = embedding.NewService(&embedding.Config{
			Provider:   cfg.Embedding.Provider,
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding service: %w", err)
		}
	} else {
		slog.Warn("no embedding provider configured, using local bag-of-words embedder")
		embeddingService = embedding.NewLocalService(cfg.Embedding.Dimensions)
	}

	extractor := facts.NewExtractor(llmService, exporter)
	enricher := enrichment.NewEnricher(storeInstance)
	retriever := retrieval.NewRetriever(storeInstance, embeddingService, enricher, exporter, instanceProfile.TemporalBoostMode)
	engine := memory.NewEngine(storeInstance, extractor, embeddingService, exporter)
	builder := contextbuilder.NewBuilder(storeInstance, retriever, exporter, 0)
	consolidator := consolidation.NewConsolidator(storeInstance, llmService, embeddingService, exporter,
		instanceProfile.ConsolidationLookbackDays, instanceProfile.ConsolidationMinCluster)

	s := &Server{
		Profile:       instanceProfile,
		Store:         storeInstance,
		engine:        engine,
		builder:       builder,
		consolidator:  consolidator,
		metrics:       exporter,
		schedulerStop: make(chan struct{}),
		schedulerDone: make(chan struct{}),
	}
	s.e = s.newEcho()
	return s, nil
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestIDMiddleware)

	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := e.Group("/api/v1")
	api.POST("/turns", s.handleRecordTurn)
	api.POST("/context", s.handleBuildContext)
	api.GET("/owners/:ownerID/memories", s.handleListMemories)
	api.DELETE("/owners/:ownerID", s.handleEraseOwner)

	return e
}

// requestIDMiddleware tags every request with a short id used in logs.
func requestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := shortuuid.New()
		c.Set("request_id", requestID)
		c.Response().Header().Set("X-Request-Id", requestID)
		return next(c)
	}
}

// Start runs the HTTP listener and the consolidation scheduler.
func (s *Server) Start(ctx context.Context) error {
	go s.runConsolidationScheduler(ctx)

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "address", address, "version", s.Profile.Version)
	return s.e.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.e.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	// The scheduler stops on this channel, not on the caller's context:
	// main cancels its context only after Shutdown returns.
	close(s.schedulerStop)
	<-s.schedulerDone

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shutdown complete")
}

// runConsolidationScheduler triggers consolidation batches on the profile
// interval. An interval of zero disables the scheduler.
func (s *Server) runConsolidationScheduler(ctx context.Context) {
	defer close(s.schedulerDone)

	hours := s.Profile.ConsolidationIntervalHours
	if hours <= 0 {
		slog.Info("consolidation scheduler disabled")
		return
	}

	ticker := time.NewTicker(time.Duration(hours) * time.Hour)
	defer ticker.Stop()

	slog.Info("consolidation scheduler started", "interval_hours", hours)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.schedulerStop:
			return
		case <-ticker.C:
			if err := s.consolidator.ConsolidateAll(ctx); err != nil {
				slog.Error("consolidation run failed", "error", err)
			}
		}
	}
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
