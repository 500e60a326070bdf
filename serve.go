package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitea.com/go-chi/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/authenticator"
	"github.com/blogem/cmdb/cache"
	"github.com/blogem/cmdb/config"
	"github.com/blogem/cmdb/controllers"
	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/events"
	"github.com/blogem/cmdb/logging"
	"github.com/blogem/cmdb/metrics"
	authmiddleware "github.com/blogem/cmdb/middleware"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/repositories"
	"github.com/blogem/cmdb/services"
	"github.com/blogem/cmdb/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := registry.Default()

	// Initialize database
	db, err := database.InitializeDatabase(database.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}, reg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	shutdownTracing, err := tracing.Setup(cfg.Tracing.Enabled, os.Stdout)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	var store cache.Store = cache.Nop{}
	if cfg.Redis.Addr != "" {
		redisStore, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, logger.Named("cache"))
		if err != nil {
			return err
		}
		defer redisStore.Close()
		store = redisStore
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger.Named("events"))
		if err != nil {
			return err
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(db.DB, "cmdb"))
	m := metrics.New(promRegistry)

	srvs := services.NewServices(services.Dependencies{
		DB:            db,
		Registry:      reg,
		Repos:         repositories.NewRepositories(db.Dialect),
		Cache:         store,
		Events:        publisher,
		Metrics:       m,
		Logger:        logger,
		Limits:        cfg.Limits,
		Cascade:       cfg.Cascade,
		ProtectedTags: cfg.ProtectedTags,
	})

	provider, verifier, err := setupAuth(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	ctrl := controllers.NewControllers(srvs, provider, cfg.Auth.GroupsClaim, logger.Named("http"))

	r, err := setupRouter(cfg, ctrl, verifier, m, logger)
	if err != nil {
		return fmt.Errorf("failed to setup router: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cmdb starting", zap.String("addr", srv.Addr), zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupAuth builds the browser login provider and the bearer token verifier. A shared JWT
// secret takes precedence; otherwise bearer tokens are checked as ID tokens of the OpenID
// provider. Either result may be nil.
func setupAuth(ctx context.Context, cfg config.AuthConfig) (authenticator.Provider, authenticator.Verifier, error) {
	var provider authenticator.Provider
	var verifier authenticator.Verifier

	if cfg.OIDCIssuer != "" {
		p, err := authenticator.NewOpenIDProvider(ctx, authenticator.Config{
			IssuerURL:    cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize OpenID provider: %w", err)
		}
		provider = p
		if v, ok := p.(authenticator.Verifier); ok {
			verifier = v
		}
	}

	if cfg.JWTSecret != "" {
		v, err := authenticator.NewJWTVerifier(cfg.JWTSecret)
		if err != nil {
			return nil, nil, err
		}
		verifier = v
	}

	return provider, verifier, nil
}

// setupRouter configures all routes
func setupRouter(cfg *config.Config, ctrl *controllers.Controllers, verifier authenticator.Verifier, m *metrics.Metrics, logger *zap.Logger) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(middleware.Compress(5))

	// Session middleware
	sessionHandler, err := session.Sessioner(session.Options{
		Provider:       "memory",
		ProviderConfig: "",
		CookieName:     "cmdb_session",
		Secure:         cfg.Server.UseHTTPS,
		Gclifetime:     3600, // Session lifetime in seconds
		Maxlifetime:    3600,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	r.Use(sessionHandler)

	r.Use(authmiddleware.Identify(verifier, cfg.Auth.GroupsClaim, logger.Named("auth")))
	r.Use(authmiddleware.AccessLog(logger.Named("access")))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status": "healthy", "service": "cmdb"}`)
	})
	r.Handle("/metrics", m.Handler())

	ctrl.Mount(r, authmiddleware.RequireActor)

	return r, nil
}
