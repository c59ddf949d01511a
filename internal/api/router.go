// Package api exposes the scheduler, history and monitor over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mengguiyouziyi/social-auto-upload/internal/engine"
	"github.com/mengguiyouziyi/social-auto-upload/internal/history"
	"github.com/mengguiyouziyi/social-auto-upload/internal/monitor"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	scheduler  *engine.Scheduler
	history    *history.Store
	monitor    *monitor.Monitor
	mcpHandler http.Handler
	logger     *slog.Logger
	authToken  string
}

// Options bundles the server dependencies. MCPHandler is optional.
type Options struct {
	Addr       string
	AuthToken  string
	Scheduler  *engine.Scheduler
	History    *history.Store
	Monitor    *monitor.Monitor
	MCPHandler http.Handler
	Logger     *slog.Logger
}

// NewServer constructs the HTTP API server.
func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:     router,
		scheduler:  opts.Scheduler,
		history:    opts.History,
		monitor:    opts.Monitor,
		mcpHandler: opts.MCPHandler,
		logger:     opts.Logger,
		authToken:  opts.AuthToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, used by tests to serve without a listener.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	if s.mcpHandler != nil {
		var mcpHandler http.Handler = s.mcpHandler
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Post("/cron/preview", s.handleCronPreview)
		r.Get("/task-types", s.handleTaskTypes)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/counts", s.handleTaskCounts)
			r.Post("/dependencies/validate", s.handleValidateDependencies)
			r.Get("/dependencies/order", s.handleExecutionOrder)
			r.Get("/dependencies/stats", s.handleDependencyStats)
			r.Get("/dependencies/graph", s.handleDependencyGraph)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/run", s.handleRunTask)
				r.Post("/stop", s.handleStopTask)
				r.Post("/pause", s.handlePauseTask)
				r.Post("/resume", s.handleResumeTask)
				r.Put("/progress", s.handleUpdateProgress)
				r.Put("/dependencies", s.handleSetDependencies)
				r.Get("/dependencies", s.handleGetDependencies)
				r.Get("/history", s.handleTaskHistory)
			})
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleListHistory)
			r.Get("/statistics", s.handleHistoryStatistics)
			r.Get("/trend", s.handleHistoryTrend)
			r.Get("/errors", s.handleErrorStatistics)
			r.Get("/performance", s.handlePerformanceMetrics)
			r.Get("/export", s.handleExportHistory)
			r.Get("/search", s.handleSearchHistory)
			r.Delete("/", s.handleCleanupHistory)
			r.Get("/{executionID}", s.handleGetExecution)
		})

		r.Route("/monitor", func(r chi.Router) {
			r.Get("/status", s.handleMonitorStatus)
			r.Get("/health", s.handleSystemHealth)
			r.Get("/trend", s.handleMonitorTrend)
			r.Get("/alerts", s.handleListAlerts)
			r.Get("/alerts/statistics", s.handleAlertStatistics)
			r.Post("/alerts/{alertID}/resolve", s.handleResolveAlert)
			r.Get("/rules/{taskID}", s.handleListRules)
			r.Post("/rules/{taskID}", s.handleAddRule)
			r.Delete("/rules/{taskID}/{ruleID}", s.handleRemoveRule)
			r.Put("/rules/{taskID}/{ruleID}", s.handleToggleRule)
		})
	})
}
