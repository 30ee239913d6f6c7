package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/viper"

	"github.com/wortley/unichess/internal/admission"
	"github.com/wortley/unichess/internal/auth"
	"github.com/wortley/unichess/internal/broker"
	redispkg "github.com/wortley/unichess/internal/pkg/redis"
	"github.com/wortley/unichess/internal/play"
	"github.com/wortley/unichess/internal/registry"
	"github.com/wortley/unichess/internal/rules"
	"github.com/wortley/unichess/internal/session"
	"github.com/wortley/unichess/internal/store"
	"github.com/wortley/unichess/internal/ws"
)

func main() {
	// --- Configuration Loading ---
	viper.SetConfigName("unichess-server")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs/development")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Error("Failed to read configuration file", "error", err)
		os.Exit(1)
	}

	// --- Shared Infrastructure ---
	redisClient, err := redispkg.NewClient(redispkg.Config{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	gateway, err := broker.NewAMQPGateway(viper.GetString("amqp.url"))
	if err != nil {
		slog.Error("Failed to connect to message broker", "error", err)
		os.Exit(1)
	}

	accounts, err := auth.NewPostgresRepository(viper.GetString("database.url"))
	if err != nil {
		slog.Error("Failed to connect to accounts database", "error", err)
		os.Exit(1)
	}

	// --- Core Components ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := admission.New(
		viper.GetInt("admission.capacity"),
		viper.GetDuration("admission.refill_every"),
	)
	limiter.Start(ctx)

	sessionStore := store.NewRedisStore(redisClient)
	reg := registry.New()
	engine := rules.NewChessEngine()
	cm := ws.NewConnectionManager()

	sessions := session.NewController(sessionStore, gateway, reg, cm, engine, session.Config{
		MaxConcurrentSessions: viper.GetInt("sessions.max_concurrent"),
	})
	playCtrl := play.NewController(sessionStore, gateway, reg, engine)

	authService := auth.NewService(accounts, auth.Config{
		JWTSecret:     viper.GetString("auth.jwt_secret"),
		TokenDuration: viper.GetDuration("auth.token_duration"),
	})
	authHandler := auth.NewHTTPHandler(authService)
	wsHandler := ws.NewHandler(authService, limiter, cm, sessions, playCtrl, gateway)

	// --- HTTP Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)
	})
	r.Handle("/ws", wsHandler)

	httpPort := viper.GetString("http_server.port")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", httpPort),
		Handler: r,
	}

	go func() {
		slog.Info("Unichess server starting...", "port", httpPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Could not start server", "error", err)
			os.Exit(1)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down Unichess server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Stop the refiller and drop per-worker bookkeeping; connections cannot
	// be resumed once the process exits.
	cancel()
	reg.Clear()
	if err := sessionStore.DeleteAll(shutdownCtx); err != nil {
		slog.Error("Failed to clear sessions on shutdown", "error", err)
	}
	if err := gateway.Close(); err != nil {
		slog.Error("Failed to close broker connection", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		slog.Error("Failed to close Redis connection", "error", err)
	}

	slog.Info("Unichess server stopped.")
}
