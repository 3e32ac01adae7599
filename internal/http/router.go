// Package httpapi wires the HTTP transport (Gin) to the publisher, middleware
// and route handlers. It owns the cross-cutting concerns: tracing,
// correlation ids, redacting access logs, panic recovery, metrics,
// idempotency header validation, rate limiting, CORS and security headers.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter/internal/config"
	_ "github.com/tbourn/go-newsletter/internal/docs" // registers the swagger spec
	"github.com/tbourn/go-newsletter/internal/http/handlers"
	"github.com/tbourn/go-newsletter/internal/http/middleware"
	"github.com/tbourn/go-newsletter/internal/repo"
)

const maxBodyBytes = 1 << 20

// RegisterRoutes attaches middleware and endpoints to r. db backs the
// idempotency replay lookup; pub serves the publish endpoint.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID and Identity: correlation id and caller
//  3. AccessLog: structured, redacted logs
//  4. Recovery: after the logger so panics are logged with the request
//  5. Body size limit
//  6. Metrics
//  7. Idempotency header (before the limiter so replays bypass it)
//  8. Rate limiter
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, pub handlers.NewsletterPublisher, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		MaskHeaders: []string{"X-Postmark-Server-Token"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyHeader(middleware.IdempotencyOptions{}, completedLookup(db)))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", gzip.Gzip(gzip.DefaultCompression), ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(pub)
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/admin/newsletters", h.PublishNewsletter)
	}
}

// completedLookup reports whether a finished response is stored for the key.
func completedLookup(db *gorm.DB) middleware.CompletedLookup {
	return func(ctx context.Context, userID, key string) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, key)
		if err != nil {
			return false, err
		}
		return rec.Completed(), nil
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			// ACAO even without an Origin header, for plain health probes.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps request bodies at maxBytes; larger bodies fail to bind.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
