package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-service/internal/api/routes"
	"collab-service/internal/auth"
	"collab-service/internal/collab"
	"collab-service/internal/config"
	"collab-service/internal/database"
	"collab-service/internal/repository"
	"collab-service/internal/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting collaboration server")

	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewMySQLConnection(&cfg.MySQL)
	if err != nil {
		slog.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}

	if err := database.AutoMigrate(db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	userRepo := repository.NewUserRepository(db)
	noteRepo := repository.NewNoteRepository(db)
	presenceRepo := repository.NewPresenceRepository(redisClient.GetClient(), cfg.Collab.PresenceTTL)

	verifier := auth.NewJWTVerifier(cfg.JWT.Secret, userRepo)
	noteService := services.NewNoteService(noteRepo)
	eventBus := collab.NewRedisEventBus(redisClient.GetClient())

	hub := collab.NewHub(presenceRepo, eventBus, noteService,
		cfg.Collab.StoreTimeout, cfg.Collab.CursorThrottle)
	go hub.Run()

	router := routes.NewRouter(hub, verifier, noteService, cfg.Collab.CursorThrottle)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr, "instanceID", hub.InstanceID())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Stop()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
