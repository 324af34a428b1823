// Package server is the composition root: it picks the storage backends,
// wires services to handlers, mounts routes and runs the HTTP server.
//
// DEPENDENCY FLOW:
//
//	config → store (memory | sqlite | postgres | cassandra)
//	       → counters (store | redis)
//	       → worker queue
//	       → position / counter / session components
//	       → ForumService, AccountService
//	       → handlers → chi router
//
// SHUTDOWN ORDER:
// HTTP first (no new work), then the worker queue (drains queued counter
// and session writes), then the stores those writes go to.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/threadboard/internal/auth"
	"github.com/sakif/threadboard/internal/config"
	"github.com/sakif/threadboard/internal/counter"
	"github.com/sakif/threadboard/internal/handler"
	"github.com/sakif/threadboard/internal/middleware"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/position"
	"github.com/sakif/threadboard/internal/repository"
	"github.com/sakif/threadboard/internal/repository/cassandra"
	"github.com/sakif/threadboard/internal/repository/memory"
	"github.com/sakif/threadboard/internal/repository/rediscounter"
	"github.com/sakif/threadboard/internal/repository/sqlstore"
	"github.com/sakif/threadboard/internal/service"
	"github.com/sakif/threadboard/internal/session"
	"github.com/sakif/threadboard/internal/snowflake"
	"github.com/sakif/threadboard/internal/worker"
)

type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	store   repository.Store
	queue   *worker.Queue
	closers []io.Closer
}

// New opens the configured backends and builds the router. On error every
// backend opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.SessionKey)
	if err != nil {
		return nil, err
	}
	ids, err := snowflake.New(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.closers = append(s.closers, store)

	counters, err := s.openCounters(ctx)
	if err != nil {
		s.closeStores()
		return nil, err
	}

	if err := ensureDefaultNode(ctx, store, ids, logger); err != nil {
		s.closeStores()
		return nil, err
	}

	s.queue = worker.NewQueue(worker.Config{
		Size:        cfg.QueueSize,
		Workers:     cfg.QueueWorkers,
		TaskTimeout: cfg.TaskTimeout,
	}, logger)
	s.queue.Start()

	sessions := session.NewStore(store, s.queue, logger)
	forum := service.NewForumService(
		store,
		position.NewAssigner(store, store, logger),
		counter.NewStore(counters, s.queue, logger),
		ids,
		logger,
	).WithBucketLookback(cfg.ThreadBucketLookback)
	accounts := service.NewAccountService(store, sessions, tokens, auth.NewPasswordService(), ids, logger)

	s.routes(
		handler.NewForumHandler(forum, logger),
		handler.NewAccountHandler(accounts, logger),
		auth.Sessions(tokens, sessions, logger),
	)
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil

	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("server: creating %s: %w", dir, err)
			}
		}
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.DBPath)

	case config.BackendPostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DatabaseURL)

	case config.BackendCassandra:
		return cassandra.Open(ctx, cassandra.Config{
			Hosts:       cfg.CassandraHosts,
			Keyspace:    cfg.CassandraKeyspace,
			Replication: cfg.CassandraReplication,
			Timeout:     cfg.CassandraTimeout,
		}, logger)
	}
	return nil, fmt.Errorf("server: unknown store backend %q", cfg.StoreBackend)
}

func (s *Server) openCounters(ctx context.Context) (repository.CounterRepository, error) {
	if s.config.CounterBackend != config.CounterRedis {
		return s.store, nil
	}

	counters, err := rediscounter.New(ctx, rediscounter.Options{
		Addr:     s.config.RedisAddr,
		Password: s.config.RedisPassword,
		DB:       s.config.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, counters)
	s.logger.Info("counters kept in redis", slog.String("addr", s.config.RedisAddr))
	return counters, nil
}

// ensureDefaultNode gives a fresh install somewhere to post.
func ensureDefaultNode(ctx context.Context, store repository.NodeRepository, ids service.IDGenerator, logger *slog.Logger) error {
	nodes, err := store.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("server: listing nodes: %w", err)
	}
	if len(nodes) > 0 {
		return nil
	}

	node := &model.Node{ID: ids.Next(), Title: "General"}
	if err := store.CreateNode(ctx, node); err != nil {
		return fmt.Errorf("server: creating default node: %w", err)
	}
	logger.Info("created default node", slog.Int64("nodeID", node.ID))
	return nil
}

// routes mounts every endpoint.
//
//	GET  /healthz                          queue stats
//	GET  /api/nodes                        node index
//	GET  /api/nodes/{nodeID}               node page
//	POST /api/nodes/{nodeID}/threads       new thread
//	GET  /api/threads/{threadID}?page=N    thread page
//	POST /api/threads/{threadID}/replies   reply
//	POST /api/register | /api/login | /api/logout
//	GET  /api/me                           signed-in user (401 otherwise)
func (s *Server) routes(forum *handler.ForumHandler, accounts *handler.AccountHandler, sessions func(http.Handler) http.Handler) {
	s.router.Use(middleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(sessions)

		r.Get("/nodes", forum.HandleListNodes)
		r.Get("/nodes/{nodeID}", forum.HandleViewNode)
		r.Post("/nodes/{nodeID}/threads", forum.HandleCreateThread)
		r.Get("/threads/{threadID}", forum.HandleViewThread)
		r.Post("/threads/{threadID}/replies", forum.HandleReply)

		r.Post("/register", accounts.HandleRegister)
		r.Post("/login", accounts.HandleLogin)
		r.Post("/logout", accounts.HandleLogout)
		r.With(auth.RequireAuth).Get("/me", accounts.HandleMe)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	stats := s.queue.Stats()
	fmt.Fprintf(w, `{"status":"ok","queue":{"pending":%d,"completed":%d,"failed":%d,"dropped":%d}}`+"\n",
		stats.Pending, stats.Completed, stats.Failed, stats.Dropped)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close drains the background queue and then closes the stores.
func (s *Server) Close() error {
	if s.queue != nil {
		s.queue.Stop()
	}
	return s.closeStores()
}

func (s *Server) closeStores() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing stores", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("store", s.config.StoreBackend),
			slog.String("counters", s.config.CounterBackend),
			slog.Int64("nodeID", s.config.NodeID),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
