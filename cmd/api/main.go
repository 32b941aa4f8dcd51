package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/canopy-portal/internal/config"
	"github.com/jwalitptl/canopy-portal/internal/email"
	"github.com/jwalitptl/canopy-portal/internal/form/treecampaign"
	"github.com/jwalitptl/canopy-portal/internal/form/volunteer"
	authHandler "github.com/jwalitptl/canopy-portal/internal/handler/auth"
	formsHandler "github.com/jwalitptl/canopy-portal/internal/handler/forms"
	"github.com/jwalitptl/canopy-portal/internal/handler/health"
	"github.com/jwalitptl/canopy-portal/internal/middleware"
	"github.com/jwalitptl/canopy-portal/internal/notify"
	"github.com/jwalitptl/canopy-portal/internal/repository"
	"github.com/jwalitptl/canopy-portal/internal/repository/memory"
	"github.com/jwalitptl/canopy-portal/internal/repository/postgres"
	"github.com/jwalitptl/canopy-portal/internal/router"
	"github.com/jwalitptl/canopy-portal/internal/service/audit"
	authService "github.com/jwalitptl/canopy-portal/internal/service/auth"
	formsService "github.com/jwalitptl/canopy-portal/internal/service/forms"
	"github.com/jwalitptl/canopy-portal/internal/session"
	"github.com/jwalitptl/canopy-portal/internal/worker"
	"github.com/jwalitptl/canopy-portal/pkg/auth"
	"github.com/jwalitptl/canopy-portal/pkg/circuitbreaker"
	"github.com/jwalitptl/canopy-portal/pkg/logger"
	"github.com/jwalitptl/canopy-portal/pkg/messaging/redis"
	"github.com/jwalitptl/canopy-portal/pkg/metrics"
	"github.com/jwalitptl/canopy-portal/pkg/security"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize logging
	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	})
	log.Logger = *appLog.Zerolog()

	m := metrics.NewMetrics("portal")

	// Initialize the backend
	var (
		backend repository.Backend
		pruner  repository.AuditPruner
	)
	switch cfg.Backend.Driver {
	case "postgres":
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		pg := postgres.NewBackend(db)
		backend, pruner = pg, pg
	default:
		mem := memory.NewBackend(security.NewBcryptHasher(0))
		if cfg.Backend.Seed {
			if err := seed(mem); err != nil {
				log.Fatal().Err(err).Msg("failed to seed memory backend")
			}
		}
		backend, pruner = mem, mem
	}
	guarded := repository.NewGuarded(backend, circuitbreaker.Settings{
		Name:                "backend",
		MaxRequests:         1,
		Timeout:             cfg.Backend.BreakerTimeout,
		ConsecutiveFailures: cfg.Backend.BreakerFailures,
	}, m)

	// Initialize Redis when a component needs it
	var rdb *goredis.Client
	if cfg.Session.Store == "redis" || cfg.Notify.Broker {
		rdb, err = redis.NewClient(redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
	}

	// Notices and mail
	notifier := notify.Multi{notify.NewLogNotifier(appLog)}
	if cfg.Notify.Broker {
		broker := redis.NewRedisBroker(rdb, log.Logger)
		notifier = append(notifier, notify.NewBrokerNotifier(broker, cfg.Notify.Channel, appLog))
	}
	mailer := email.NewNopService()
	if cfg.Mail.Enabled {
		mailer = email.NewSMTPService(cfg.Mail)
	}

	// Sessions
	codec, err := newCodec(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session codec")
	}
	auditor := audit.NewService(guarded, appLog)
	newManager := func(kind session.Kind, window time.Duration) *session.Manager {
		return session.NewManager(kind, session.ManagerOptions{
			Window:     window,
			StorageTTL: cfg.Session.StorageTTL,
			Codec:      codec,
			OnEnd:      authService.EndHook(kind, auditor, m, notifier),
		})
	}
	sessions := authService.NewSessions(guarded, appLog,
		newManager(session.KindAdmin, cfg.Session.AdminWindow),
		newManager(session.KindOrganization, 0),
		newManager(session.KindPlanter, 0),
	)

	storage := middleware.SessionStorageConfig{
		Cookie: session.CookieOptions{
			Path:     "/",
			Domain:   cfg.Session.CookieDomain,
			Secure:   cfg.Session.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		},
		ClientTTL: cfg.Session.StorageTTL,
	}
	switch cfg.Session.Store {
	case "memory":
		storage.Shared = session.NewMemoryStorage(time.Minute)
	case "redis":
		storage.Shared = session.NewRedisStorage(rdb, "portal:session:")
	}

	// Initialize services
	adminSvc := authService.NewAdminService(sessions, guarded, cfg.Password, auditor, notifier, m, appLog)
	lookupSvc := authService.NewLookupService(sessions, guarded, auditor, notifier, m, appLog)
	credSvc := authService.NewCredentialService(guarded, cfg.Password, auditor, notifier, appLog)

	formsSvc := formsService.NewService(guarded, notifier, mailer, m, appLog, formsService.Config{
		IdleTTL:         cfg.Forms.IdleTTL,
		CleanupInterval: cfg.Forms.CleanupInterval,
	})
	formsSvc.Register(treecampaign.Name, treecampaign.Schema)
	formsSvc.Register(volunteer.Name, volunteer.Schema)

	// Initialize handlers
	var limiter gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst: cfg.RateLimit.Burst,
		}).RateLimit()
	}

	checks := []health.Check{{Name: "backend", Pinger: guarded}}
	if rdb != nil {
		checks = append(checks, health.Check{Name: "redis", Pinger: health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})})
	}

	r := router.NewRouter(
		health.NewHandler(m.Registry(), checks...),
		authHandler.NewHandler(adminSvc, lookupSvc, credSvc, sessions, limiter, time.Second),
		formsHandler.NewHandler(formsSvc),
		m,
		router.RouterConfig{
			CORSConfig:     middleware.DefaultCORSConfig(cfg.Security.AllowedOrigins...),
			SecurityConfig: middleware.DefaultSecurityConfig(cfg.Session.CookieSecure),
			SizeLimit:      middleware.DefaultSizeLimitConfig(),
			SessionStorage: storage,
			Debug:          cfg.Log.Level == "debug",
		},
	)
	r.Setup()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Audit.RetentionDays > 0 {
		go worker.NewAuditCleanupWorker(pruner, cfg.Audit.RetentionDays, cfg.Audit.CleanupInterval, appLog).Start(ctx)
	}

	// WriteTimeout stays zero by default so the countdown stream is not cut.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	// Start server
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("backend", cfg.Backend.Driver).Str("session_store", cfg.Session.Store).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	// Cancelling the base context ends open countdown streams.
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}

// newCodec builds the session codec from PORTAL_SESSION_KEY. The memory
// backend falls back to a random key, so its sessions do not survive a restart.
func newCodec(cfg *config.Config) (session.Codec, error) {
	var (
		key []byte
		err error
	)
	switch {
	case cfg.Secrets.SessionKey != "":
		key, err = security.ParseKey(cfg.Secrets.SessionKey)
	case cfg.Backend.Driver == "memory":
		log.Warn().Msg("PORTAL_SESSION_KEY not set, using a random session key")
		key, err = security.GenerateKey()
	default:
		return nil, errors.New("PORTAL_SESSION_KEY is required")
	}
	if err != nil {
		return nil, err
	}

	if cfg.Session.Codec == "jwt" {
		return session.NewJWTCodec(auth.NewJWTService(key, "canopy-portal")), nil
	}
	codec, err := session.NewAEADCodec(key)
	if err != nil {
		return nil, err
	}
	return codec, nil
}
