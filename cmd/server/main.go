// HeavyHunt - lead capture chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/heavyhunt/internal/api"
	"github.com/ashureev/heavyhunt/internal/chatlog"
	"github.com/ashureev/heavyhunt/internal/config"
	"github.com/ashureev/heavyhunt/internal/conversation"
	"github.com/ashureev/heavyhunt/internal/extraction"
	"github.com/ashureev/heavyhunt/internal/handoff"
	"github.com/ashureev/heavyhunt/internal/identity"
	"github.com/ashureev/heavyhunt/internal/middleware"
	"github.com/ashureev/heavyhunt/internal/notify"
	"github.com/ashureev/heavyhunt/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var leads store.LeadStore = repo
	if cfg.Dynamo.Enabled() {
		dynamo, err := store.NewDynamoLeadStore(context.Background(), store.DynamoConfig{
			Region:   cfg.Dynamo.Region,
			Table:    cfg.Dynamo.TableName,
			Endpoint: cfg.Dynamo.Endpoint,
		})
		if err != nil {
			slog.Error("Failed to initialize DynamoDB lead store", "error", err)
			os.Exit(1)
		}
		leads = dynamo
		slog.Info("Leads stored in DynamoDB", "table", cfg.Dynamo.TableName)
	}

	extractor, err := newExtractor(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize extractor", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := extractor.Close(); closeErr != nil {
			slog.Error("Failed to close extractor", "error", closeErr)
		}
	}()

	var notifiers notify.Multi
	if cfg.Mandrill.Enabled() {
		notifiers = append(notifiers, notify.NewMandrill(notify.MandrillConfig{
			APIKey:       cfg.Mandrill.APIKey,
			FromEmail:    cfg.Mandrill.FromEmail,
			FromName:     cfg.Mandrill.FromName,
			AdminEmail:   cfg.Mandrill.AdminEmail,
			DashboardURL: cfg.Mandrill.DashboardURL,
		}, logger))
		slog.Info("Mandrill notifications enabled", "admin_email_set", cfg.Mandrill.AdminEmail != "")
	}
	if cfg.NATS.URL != "" {
		publisher, err := notify.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			// Lead events are optional; the service runs without them.
			slog.Warn("Failed to connect to NATS, lead events disabled", "error", err)
		} else {
			defer func() {
				if closeErr := publisher.Close(); closeErr != nil {
					slog.Error("Failed to drain NATS connection", "error", closeErr)
				}
			}()
			notifiers = append(notifiers, publisher)
			slog.Info("NATS lead events enabled", "subject", cfg.NATS.Subject)
		}
	}

	dispatcher := handoff.NewDispatcher(leads, notifiers, handoff.Config{
		QueueSize: cfg.HandoffQueueSize,
	}, logger)

	transcript, err := chatlog.NewConversationLogger(chatlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	sessions := conversation.NewManager(conversation.SessionConfig{
		Extractor: extractor,
		Handoff:   dispatcher,
		Logger:    logger,
	},
		conversation.WithConversationStore(repo),
		conversation.WithTranscript(transcript),
	)

	chatHandler := api.NewHandler(sessions, repo, api.Options{
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		AllowedOrigins:    cfg.AllowedOrigins,
		IsDev:             cfg.IsDevelopment(),
		Logger:            logger,
	})
	defer chatHandler.Close()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	chatHandler.RegisterRoutes(r)

	// Create server.
	// WebSocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, "heavyhunt"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conversation.StartTTLWorker(ctx, sessions, cfg.SessionSweepInterval, cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Order matters: no new turns, then flush mirrors and pending handoffs,
	// then the transcript.
	sessions.Close(shutdownCtx)
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Error("Pending lead handoffs abandoned", "error", err)
	}
	if err := transcript.Close(); err != nil {
		slog.Error("Failed to close conversation logger", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func newExtractor(cfg *config.Config, logger *slog.Logger) (extraction.Extractor, error) {
	if cfg.Extraction.UseGRPC() {
		grpcCfg := extraction.DefaultGrpcClientConfig()
		grpcCfg.Address = cfg.Extraction.GRPCAddr
		grpcCfg.RequestTimeout = cfg.Extraction.Timeout
		slog.Info("Connecting to extraction service via gRPC", "address", grpcCfg.Address)
		client, err := extraction.NewGrpcClient(grpcCfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	slog.Info("Using Gemini extractor", "model", cfg.Extraction.GeminiModel)
	gemini, err := extraction.NewGeminiExtractor(context.Background(), extraction.GeminiConfig{
		APIKey:  cfg.Extraction.GoogleAPIKey,
		Model:   cfg.Extraction.GeminiModel,
		Timeout: cfg.Extraction.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return gemini, nil
}
