package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/alumnet/backend/internal/api"
	"github.com/alumnet/backend/internal/auth"
	"github.com/alumnet/backend/internal/config"
	"github.com/alumnet/backend/internal/domain"
	"github.com/alumnet/backend/internal/repository"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting AlumNet chat API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
	)

	// Initialize document store
	ctx := context.Background()
	client, err := initMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		logger.Fatal("Failed to connect to document store", zap.Error(err))
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	logger.Info("Connected to document store")

	db := client.Database(cfg.Mongo.Database)
	chatRepo := repository.NewMongoChatRepository(db, cfg.Mongo.OpTimeout)
	if err := chatRepo.EnsureIndexes(ctx); err != nil {
		logger.Fatal("Failed to create indexes", zap.Error(err))
	}
	userDirectory := repository.NewMongoUserDirectory(db, cfg.Mongo.OpTimeout)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	// Realtime plumbing: the registry is owned here and handed to the
	// gateway; the broadcaster subscribes the registry to domain events.
	registry := api.NewRoomRegistry(logger)
	broadcaster := api.NewBroadcaster(registry, logger)

	chatService := domain.NewChatService(chatRepo, userDirectory, broadcaster)
	gateway := api.NewGateway(registry, chatService, userDirectory, jwtManager, logger)

	chatHandler := api.NewChatHandler(chatService, logger)
	healthHandler := api.NewHealthHandler(chatRepo)

	router := api.NewRouter(chatHandler, healthHandler, gateway, jwtManager, logger)
	r := router.Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func initLogger() (*zap.Logger, error) {
	if os.Getenv("ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	return client, nil
}
