// Qupid chat backend: sessions, reply streaming, analysis and async reply jobs.
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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/suPer8Hu/qupid/internal/ai"
	"github.com/suPer8Hu/qupid/internal/chat"
	"github.com/suPer8Hu/qupid/internal/config"
	"github.com/suPer8Hu/qupid/internal/db"
	"github.com/suPer8Hu/qupid/internal/httpapi"
	"github.com/suPer8Hu/qupid/internal/httpapi/handlers"
	"github.com/suPer8Hu/qupid/internal/store/rabbitmq"
	"github.com/suPer8Hu/qupid/internal/store/redisstore"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}
	cfg := config.Load()
	gin.SetMode(gin.ReleaseMode)

	gdb, err := db.Connect(cfg.DBDSN, chat.Models()...)
	if err != nil {
		slog.Error("db connect failed", "error", err)
		os.Exit(1)
	}

	rdb := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	err = rdb.Ping(pingCtx)
	cancelPing()
	if err != nil {
		slog.Error("redis ping failed", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		slog.Error("rabbit connect failed", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	reg := ai.NewConfiguredRegistry(cfg)
	if _, err := reg.Get(context.Background(), cfg.AIProvider, ""); err != nil {
		slog.Error("unsupported AI provider", "provider", cfg.AIProvider, "available", reg.Names(), "error", err)
		os.Exit(1)
	}
	svc := chat.NewService(chat.NewRepo(gdb), reg, cfg.AIProvider, cfg.ChatContextWindowSize)

	h := handlers.NewHandler(cfg, svc, rdb, rdb, pub, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // reply streams are long-lived
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", srv.Addr, "provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
