// Package httpapi exposes the class registry and attendance core over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoattend/internal/auth"
	"geoattend/internal/ctxlog"
	"geoattend/internal/httpmiddleware"
	"geoattend/internal/metrics"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// RouterOptions configure the middleware stack around the API.
type RouterOptions struct {
	Logger         *slog.Logger
	SigningKey     string
	Issuer         string
	Limiter        httpmiddleware.Limiter
	AllowedOrigins []string
	Health         map[string]HealthCheck
}

// NewRouter builds the gin engine serving s.
func NewRouter(opts RouterOptions, s *Server) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger, "/healthz", "/metrics"))
	r.Use(corsMiddleware(opts.AllowedOrigins))
	r.Use(securityHeaders())
	r.Use(metrics.GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", healthz(opts.Health))

	v1 := r.Group("/v1")
	if opts.Limiter != nil {
		v1.Use(httpmiddleware.RateLimit(opts.Limiter))
	}
	v1.Use(auth.Bearer(opts.SigningKey, opts.Issuer))
	s.Mount(v1)
	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		body := gin.H{"status": "ok"}
		status := http.StatusOK
		for name, check := range checks {
			ok := check(ctx)
			body[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}
		c.JSON(status, body)
	}
}

// requestLogger tags every request with an id, carries a request-scoped
// logger in the context and logs the outcome.
func requestLogger(base *slog.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header("X-Request-ID", rid)
		logger := base.With("request_id", rid)
		c.Request = c.Request.WithContext(ctxlog.WithLogger(c.Request.Context(), logger))

		c.Next()

		if _, ok := skip[c.Request.URL.Path]; ok {
			return
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if claims, ok := auth.FromGin(c); ok {
			attrs = append(attrs, "subject", claims.Subject, "role", claims.Role)
		}
		logger.Info("http request", attrs...)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
