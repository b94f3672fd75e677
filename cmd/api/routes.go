package main

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"kiosk-call/internal/audit"
	"kiosk-call/internal/calls"
	"kiosk-call/internal/httpapi"
	"kiosk-call/internal/metrics"
	"kiosk-call/internal/push"
	"kiosk-call/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// server holds what the routes need. Built once in main.
type server struct {
	log     *slog.Logger
	calls   *calls.Service
	history *audit.Service
	hub     *push.Hub
	origins []string
}

// newRouter wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func newRouter(s server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(s.log))
	r.Use(metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ws := push.NewHandler(s.hub, logger.Component(s.log, "push"), originChecker(s.origins))
	r.GET("/socket", ws.Serve)

	h := httpapi.Handlers{Calls: s.calls}
	if s.history != nil {
		h.History = s.history
	}
	h.Register(r)
	return r
}

// withCORS wraps the router for the browser front ends.
func withCORS(h http.Handler, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           int(time.Hour.Seconds()),
	}).Handler(h)
}

// originChecker admits websocket upgrades from the CORS allow-list. Requests
// without an Origin header come from agents, not browsers.
func originChecker(origins []string) func(r *http.Request) bool {
	if slices.Contains(origins, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}
