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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-risk-exceptions/internal/audit"
	"github.com/pesio-ai/be-risk-exceptions/internal/client"
	"github.com/pesio-ai/be-risk-exceptions/internal/handler"
	"github.com/pesio-ai/be-risk-exceptions/internal/metrics"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/config"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/database"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/logger"
	"github.com/pesio-ai/be-risk-exceptions/internal/repository"
	"github.com/pesio-ai/be-risk-exceptions/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting Risk Exceptions Service")

	grants, err := repository.ParseRoleAssignments(cfg.Roles.Assignments)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid ROLE_ASSIGNMENTS")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var (
		requests  service.RequestRepository
		auditLogs audit.Store
		directory service.RoleDirectory
		tx        service.Transactor
		healthFn  func(context.Context) error
	)
	switch cfg.Storage.Driver {
	case "memory":
		requests = repository.NewMemoryExceptionRepository()
		auditLogs = repository.NewMemoryAuditRepository()
		directory = repository.NewMemoryRoleDirectory(grants...)
		tx = repository.NewMemoryTransactor()
		log.Warn().Msg("Using in-memory storage; data is lost on restart")
		if len(grants) == 0 {
			log.Warn().Msg("ROLE_ASSIGNMENTS not set; approver notifications reach no one")
		}

	default:
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply schema")
			}
			log.Info().Msg("Database schema applied")
		}

		requests = repository.NewExceptionRepository(db)
		auditLogs = repository.NewAuditRepository(db)
		roles := repository.NewRoleAssignmentRepository(db)
		for _, grant := range grants {
			if err := roles.Assign(ctx, grant); err != nil {
				log.Fatal().Err(err).Str("user_id", grant.UserID).Msg("Failed to seed role assignment")
			}
		}
		directory = roles
		tx = db
		healthFn = db.Ping
	}

	// Initialize notifications
	var gateway service.NotificationGateway
	if cfg.Notifications.NATSURL != "" {
		nc, err := client.Connect(cfg.Notifications.NATSURL, cfg.Service.Name, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		gateway = client.NewNotificationPublisher(nc, cfg.Notifications.Subject, log)
		log.Info().
			Str("url", cfg.Notifications.NATSURL).
			Str("subject", cfg.Notifications.Subject).
			Msg("NATS notification publisher initialized")
	} else {
		log.Warn().Msg("NATS_URL not set; notifications are disabled")
	}

	// Initialize services
	m := metrics.New(prometheus.DefaultRegisterer)
	engine := service.NewApprovalEngine(
		requests,
		audit.NewLog(auditLogs, nil),
		tx,
		directory,
		gateway,
		m,
		log,
		service.Options{
			MaxCASAttempts:  cfg.Engine.MaxCASAttempts,
			DispatchTimeout: cfg.Notifications.DispatchTimeout,
		},
	)

	// Setup HTTP routes
	router := handler.NewRouter(handler.RouterConfig{
		Handler: handler.NewHTTPHandler(engine, log),
		Auth:    handler.NewAuthenticator(cfg.Auth.JWTSigningKey, log),
		Log:     log,
		Health:  healthFn,
		Metrics: promhttp.Handler(),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC carries health and reflection only
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if cfg.Expiry.SweepInterval > 0 {
		g.Go(func() error {
			log.Info().
				Dur("interval", cfg.Expiry.SweepInterval).
				Dur("window", cfg.Expiry.ReminderWindow).
				Msg("Starting expiry reminder sweeper")
			return engine.RunExpirySweeper(gctx, cfg.Expiry.SweepInterval, cfg.Expiry.ReminderWindow)
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		healthServer.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
	}

	engine.WaitForNotifications()
	log.Info().Msg("Server stopped")
}
