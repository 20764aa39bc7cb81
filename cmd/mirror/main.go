// Command mirror runs the transparent mirroring reverse proxy: the
// process wired from every internal/ package, entered the same way the
// teacher's cmd/gateway boots its gateway.Proxy.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/mirrorproxy/internal/config"
	"github.com/mirrorproxy/internal/cookiejar"
	"github.com/mirrorproxy/internal/events"
	"github.com/mirrorproxy/internal/health"
	"github.com/mirrorproxy/internal/logger"
	"github.com/mirrorproxy/internal/proxy"
	"github.com/mirrorproxy/internal/ratelimit"
	"github.com/mirrorproxy/internal/session"
	"github.com/mirrorproxy/internal/site"
	"github.com/mirrorproxy/internal/ssrf"
)

// serviceGauges adapts the registry and limiter, each satisfying half of
// health.ServiceGauges, into the single interface Collector wants.
type serviceGauges struct {
	registry interface {
		SiteCount() int
		Ready() bool
	}
	limiter *ratelimit.Limiter
}

func (g serviceGauges) SiteCount() int       { return g.registry.SiteCount() }
func (g serviceGauges) RateLimiterKeys() int { return g.limiter.Keys() }
func (g serviceGauges) Ready() bool          { return g.registry.Ready() }

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		// logger.Init hasn't run yet; there's no structured sink to hand
		// this to, so report it the only way available and exit.
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	log := logger.Init(cfg.Environment, os.Getenv("LOG_FORMAT") == "json")
	log.Info("mirror configuration loaded",
		"listen_address", cfg.ListenAddress,
		"admin_host", cfg.AdminHost,
		"rate_limiting", cfg.EnableRateLimiting,
		"max_response_size_mb", cfg.MaxResponseSizeMB,
	)

	registry := site.NewYAMLStore(cfg.SiteRegistryPath, logger.Component(log, "registry"))

	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)

	cookiePath := os.Getenv("COOKIE_JAR_PATH")
	if cookiePath == "" {
		cookiePath = "data/cookiejar.db"
	}
	cookies, err := cookiejar.Open(cookiePath, logger.Component(log, "cookiejar"))
	if err != nil {
		log.Error("failed to open cookie jar", "error", err)
		os.Exit(1)
	}
	defer cookies.Close()

	sessions := session.New(cfg.SecretKey)
	guard := ssrf.New()
	sink := events.NewSlogSink(log)

	startedAt := time.Now()
	collector := health.NewCollector(serviceGauges{registry: registry, limiter: limiter}, startedAt, "/")

	orchestrator := proxy.New(proxy.Settings{
		AdminHost:          cfg,
		EnableRateLimiting: cfg.EnableRateLimiting,
		MaxResponseSizeMB:  cfg.MaxResponseSizeMB,
		RequestTimeout:     cfg.RequestTimeout,
	}, registry, registry, limiter, guard, sessions, cookies, sink, logger.Component(log, "proxy"))

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 1m", func() {
		if err := registry.Reload(); err != nil {
			log.Warn("site registry reload failed", "error", err)
		}
	}); err != nil {
		log.Error("failed to schedule site registry reload", "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc("@every 5m", limiter.Sweep); err != nil {
		log.Error("failed to schedule rate limiter sweep", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/mirror-admin/healthz", func(c *gin.Context) {
		if !cfg.IsAdminHost(hostOnly(c.Request.Host)) {
			c.Status(http.StatusNotFound)
			return
		}
		c.JSON(http.StatusOK, collector.Collect())
	})
	engine.NoRoute(gin.WrapH(orchestrator))

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("mirror proxy listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("mirror server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down mirror proxy...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("mirror shutdown error", "error", err)
	}
	log.Info("mirror proxy stopped")
}

func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
