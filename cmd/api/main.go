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

	"kiosk-call/internal/audit"
	"kiosk-call/internal/calls"
	"kiosk-call/internal/config"
	"kiosk-call/internal/push"
	"kiosk-call/pkg/logger"
	"kiosk-call/pkg/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := push.NewHub(logger.Component(log, "push"))
	var publisher push.Publisher = hub

	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		relay := push.NewRedisRelay(rdb, cfg.Push.RedisPrefix)
		if cfg.Push.Forward {
			// Every replica hears every frame through redis, this one included.
			publisher = relay
			go func() {
				if err := relay.Forward(rootCtx, hub); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("push relay stopped", "err", err)
				}
			}()
		} else {
			publisher = push.Fanout{hub, relay}
		}
		log.Info("push relay enabled", "redis", cfg.RedisAddr(), "forward", cfg.Push.Forward)
	}

	history := audit.NewService(audit.NewMemoryRepo())
	svc := calls.NewService(calls.NewMemoryStore(),
		calls.WithPublisher(publisher),
		calls.WithAuditor(history),
		calls.WithLogger(logger.Component(log, "calls")),
	)

	r := newRouter(server{
		log:     log,
		calls:   svc,
		history: history,
		hub:     hub,
		origins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           withCORS(r, cfg.CORS.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
