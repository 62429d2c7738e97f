package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/AgentOS/procman/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/procman/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/procman/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/procman/internal/boot"
	"github.com/GriffinCanCode/AgentOS/procman/internal/filesystem"
	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/procman/internal/process"
	"github.com/GriffinCanCode/AgentOS/procman/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/procman/internal/terminal"
	"github.com/GriffinCanCode/AgentOS/procman/internal/unit"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	registry  *prometheus.Registry
	metrics   *monitoring.Metrics
	programs  filesystem.Filesystem
	pool      *unit.Pool
	manager   *process.Manager
	terminals *terminal.Manager
	router    *gin.Engine
	http      *http.Server
}

// New wires every component from cfg. A nil logger is built from cfg.Logging.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		l, err := logging.New(logging.FromConfig(cfg.Logging))
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l
	}

	logger.Info("Initializing process supervisor",
		zap.String("port", cfg.Server.Port),
		zap.Int("max_pid", cfg.Process.MaxPID),
		zap.String("program_root", cfg.Process.ProgramRoot),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	var programs filesystem.Filesystem
	dir, err := filesystem.NewDir(cfg.Process.ProgramRoot)
	if err != nil {
		logger.Warn("Program root unavailable, using an in-memory filesystem",
			zap.String("root", cfg.Process.ProgramRoot), zap.Error(err))
		programs = filesystem.NewMemory(nil)
	} else {
		programs = dir
	}

	runner := sandbox.New(sandbox.Config{
		StackSize:     cfg.Runtime.StackSize,
		EnableConsole: cfg.Runtime.EnableConsole,
	}, logger.Component("sandbox"))
	mux := unit.NewMux(runner)
	if err := unit.RegisterBuiltins(mux); err != nil {
		return nil, fmt.Errorf("failed to register builtins: %w", err)
	}

	pool := unit.NewPool(unit.SpawnerConfig{
		Runner: mux,
		FS:     programs,
		Logger: logger.Component("unit"),
	})

	procLogger := logger.Component("process")
	manager := process.NewManager(process.Config{
		MaxPID:          cfg.Process.MaxPID,
		PipeSize:        cfg.Process.PipeSize,
		ReplySize:       cfg.Process.SignalSize,
		RequireTerminal: cfg.Process.RequireTTY,
		DefaultProgram:  cfg.Process.DefaultProgram,
	}, process.NewFSLoader(programs, mux.Provides), pool, procLogger).
		WithMetrics(metrics).
		WithOnExit(func(ev process.ExitEvent) {
			procLogger.Info("Process left the table",
				zap.Int("pid", ev.PID),
				zap.String("path", ev.Path),
				zap.Int("code", ev.Code),
				zap.String("reason", ev.Reason))
		})

	terminals := terminal.NewManager(logger.Component("terminal"))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	httpLogger := logger.Component("http")
	router.Use(middleware.RequestID(), middleware.Logger(httpLogger), middleware.Recovery(httpLogger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSFor(cfg.Server.CORSOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitFrom(cfg.RateLimit)))
	}

	apihttp.NewHandlers(apihttp.Deps{
		Manager:   manager,
		Terminals: terminals,
		Programs:  programs,
		Metrics:   metrics,
		Logger:    httpLogger,
	}).Register(router)
	ws.NewHandler(manager, metrics, logger.Component("ws")).Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	logger.Info("Server initialized successfully")

	return &Server{
		config:    cfg,
		logger:    logger,
		registry:  registry,
		metrics:   metrics,
		programs:  programs,
		pool:      pool,
		manager:   manager,
		terminals: terminals,
		router:    router,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Manager returns the process manager.
func (s *Server) Manager() *process.Manager {
	return s.manager
}

// Run starts the control loop, the boot manifest and the HTTP listener, and
// blocks until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.manager.Run(gctx)
	})

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.config.Boot.Manifest != "" {
		g.Go(func() error {
			s.bootstrap(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// bootstrap launches the boot manifest. Failures are logged; the server
// keeps running.
func (s *Server) bootstrap(ctx context.Context) {
	path := s.config.Boot.Manifest
	dir, err := filesystem.NewDir(filepath.Dir(path))
	if err != nil {
		s.logger.Error("Boot manifest unreadable", zap.String("manifest", path), zap.Error(err))
		return
	}
	m, err := boot.Load(dir, "/"+filepath.Base(path))
	if err != nil {
		s.logger.Error("Boot manifest invalid", zap.String("manifest", path), zap.Error(err))
		return
	}

	launched, err := boot.Launch(ctx, s.manager.Host(), m, s.logger.Component("boot"))
	if err != nil {
		s.logger.Error("Boot launch stopped", zap.Int("launched", len(launched)), zap.Error(err))
		return
	}
	s.logger.Info("Boot manifest launched", zap.Int("programs", len(launched)))
}

// Shutdown stops accepting requests, kills running units and stops the
// control loop.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.terminals.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("close terminals: %w", err))
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop units: %w", err))
	}
	s.manager.Close()

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
