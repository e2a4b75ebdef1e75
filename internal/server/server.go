// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"auth-flow-server/internal/api/handler"
	"auth-flow-server/internal/config"
	"auth-flow-server/internal/domain/auth"
	"auth-flow-server/internal/domain/coordinator"
	"auth-flow-server/internal/domain/discovery"
	"auth-flow-server/internal/domain/flow"
	"auth-flow-server/internal/domain/linking"
	"auth-flow-server/internal/domain/signin"
	"auth-flow-server/internal/domain/signup"
	"auth-flow-server/internal/repository"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 15 * time.Second
)

type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	router *chi.Mux

	db    *pgxpool.Pool
	redis *redis.Client

	flows    *handler.Registry
	flowAPI  *handler.FlowHandler
	ws       *handler.WebSocketHandler
	sessions *handler.SessionHandler

	unsubscribe func()
}

func initDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dbpool, err := pgxpool.New(ctx, cfg.DBUrl)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return dbpool, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
}

func clientConfig(cfg *config.Config, baseURL string, logger *zap.Logger) repository.ClientConfig {
	return repository.ClientConfig{
		BaseURL:      baseURL,
		Timeout:      cfg.RequestTimeout,
		Attempts:     cfg.RetryAttempts,
		RequireHTTPS: cfg.Production(),
		Logger:       logger,
	}
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Initialize dependencies
	db, err := initDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	redisClient := initRedis(cfg)
	validate := validator.New()
	v := auth.NewValidator(validate) // Use our wrapper

	identity, err := repository.NewIdentityClient(clientConfig(cfg, cfg.IdentityAPIURL, logger))
	if err != nil {
		return nil, err
	}
	legacyCfg := clientConfig(cfg, cfg.LegacyAuthURL, logger)
	legacyCfg.APIKey = cfg.LegacyAPIKey
	legacy, err := repository.NewLegacyClient(legacyCfg, cfg.LegacyTokenURL)
	if err != nil {
		return nil, err
	}
	accounts, err := repository.NewAccountClient(clientConfig(cfg, cfg.AccountAPIURL, logger))
	if err != nil {
		return nil, err
	}
	settingsRepo := repository.NewSettingsRepository(db)
	if err := settingsRepo.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	discoverySvc := discovery.NewService(identity, identity, cfg.DiscoveryTTL, logger)
	linker := linking.NewService(identity, discoverySvc, logger)
	signupSvc := signup.NewService(accounts, legacy, linker, v, logger)
	signinSvc := signin.NewService(settingsRepo, identity, logger)
	sessionSvc := auth.NewSessionService(auth.NewSessionStore(redisClient), cfg.SessionTTL, logger)
	machine := flow.NewMachine(logger)

	flows := handler.NewRegistry(func(initial flow.State) *coordinator.Coordinator {
		return coordinator.New(coordinator.Options{
			Initial:   initial,
			Machine:   machine,
			Discovery: discoverySvc,
			Linker:    linker,
			Accounts:  signupSvc,
			Settings:  signinSvc,
			Legacy:    legacy,
			Sessions:  sessionSvc,
			Validator: v,
			Destinations: coordinator.Destinations{
				Creator: cfg.CreatorDestination,
				General: cfg.GeneralDestination,
			},
			Logger: logger,
		})
	}, cfg.FlowTTL, logger)

	return &Server{
		cfg:         cfg,
		logger:      logger,
		router:      r,
		db:          db,
		redis:       redisClient,
		flows:       flows,
		flowAPI:     handler.NewFlowHandler(flows, v, logger),
		ws:          handler.NewWebSocketHandler(flows, v, logger),
		sessions:    handler.NewSessionHandler(sessionSvc, logger),
		unsubscribe: linker.Subscribe(flows.OnAccountLinked),
	}, nil
}

// Start serves until ctx is cancelled, then drains connections and closes
// every flow.
func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()
	srv := &http.Server{
		Addr:              s.cfg.ServerPort,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweep(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.cfg.ServerPort), zap.String("env", s.cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	s.close()
	return err
}

func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flows.Sweep()
		}
	}
}

func (s *Server) close() {
	s.unsubscribe()
	s.flows.Close()
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("close redis", zap.Error(err))
	}
	s.db.Close()
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{"postgres": "ok", "redis": "ok"}
	code := http.StatusOK
	if err := s.db.Ping(ctx); err != nil {
		status["postgres"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		status["redis"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	handler.WriteJSON(w, r, status, code)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.health)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/flows", func(r chi.Router) {
		r.Post("/", s.flowAPI.Create)
		r.Get("/{flowID}", s.flowAPI.Get)
		r.Delete("/{flowID}", s.flowAPI.Delete)
		r.Post("/{flowID}/intents", s.flowAPI.Dispatch)
		r.Get("/{flowID}/ws", s.ws.HandleConnection)
	})
	s.router.Get("/sessions/{sessionID}", s.sessions.Get)
	s.router.Delete("/sessions/{sessionID}", s.sessions.Delete)
}
