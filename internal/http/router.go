// Package httpapi wires the HTTP transport (Gin) to the application
// services, middleware, route handlers and the realtime websocket bridge.
//
// Middleware order:
//  1. OpenTelemetry: trace everything
//  2. RequestID and Identity: correlation id and caller
//  3. Logger, then Recovery so panics carry the request fields
//  4. Body size limit
//  5. Metrics
//  6. Idempotency validator (before the rate limiter so replays bypass it)
//  7. Rate limiter on writes
//  8. CORS, security headers, gzip (websocket path excluded)
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-dispatch-backend/internal/clock"
	"github.com/tbourn/go-dispatch-backend/internal/config"
	"github.com/tbourn/go-dispatch-backend/internal/http/handlers"
	"github.com/tbourn/go-dispatch-backend/internal/http/middleware"
	"github.com/tbourn/go-dispatch-backend/internal/realtime"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
	"github.com/tbourn/go-dispatch-backend/internal/services"

	_ "github.com/tbourn/go-dispatch-backend/docs" // swagger spec
)

// RealtimePath is where the websocket bridge is mounted.
const RealtimePath = "/realtime/ws"

// Deps are the long-lived collaborators the routes are built on.
type Deps struct {
	DB    *gorm.DB
	Hub   *realtime.Hub
	Coord services.CoordinationSource
	// Clock defaults to the system clock.
	Clock clock.Clock
}

// RegisterRoutes attaches all middleware and endpoints to r and returns the
// request service so callers can share its business clock.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) *services.RequestService {
	r.HandleMethodNotAllowed = true
	db := deps.DB

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.Logger(), middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, actorID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.FindIdempotencyKey(ctx, db, actorID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// Reads are polled by staff clients; only writes spend tokens.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByActorOrIP(), http.MethodPost)
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{cfg.APIBasePath},
		EnablePolicy:    true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/realtime", "/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Services
	clk := deps.Clock
	if clk == nil {
		clk = clock.System{}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	biz := clock.New(loc, cfg.CutoverHour, clk)
	period, err := clock.ParseQuotaPeriod(cfg.QuotaPeriod)
	if err != nil {
		period = clock.PeriodCalendar
	}

	var pub realtime.Publisher
	if deps.Hub != nil {
		pub = deps.Hub
	}
	reqSvc := services.NewRequestService(db, biz, deps.Coord, pub)
	reqSvc.Period = period
	reqSvc.Policy = services.ActivePolicy(cfg.ActiveRequestPolicy)
	reqSvc.Log = log.With().Str("component", "requests").Logger()

	visitSvc := services.NewVisitService(db, biz, deps.Coord, pub)
	visitSvc.Log = log.With().Str("component", "visits").Logger()

	msgSvc := services.NewMessageService(db, biz, pub)
	msgSvc.Log = log.With().Str("component", "messages").Logger()

	h := handlers.New(reqSvc, visitSvc, msgSvc)
	if cfg.IdempotencyTTL > 0 {
		h.IdempotencyTTL = cfg.IdempotencyTTL
	}

	if deps.Hub != nil {
		r.GET(RealtimePath, realtime.Handler(deps.Hub, realtime.ServerOptions{}, log.With().Str("component", "realtime").Logger()))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Requests
		api.POST("/stores/:store_id/requests", h.CreateRequest)
		api.GET("/stores/:store_id/requests", h.ListRequests)
		api.GET("/stores/:store_id/requests/active", h.GetActiveRequest)
		api.GET("/stores/:store_id/quota", h.GetQuota)
		api.GET("/requests/:id", h.GetRequest)

		// Visits
		api.POST("/stores/:store_id/visits", h.RecordVisit)
		api.GET("/stores/:store_id/visits/today", h.ListVisitsToday)

		// Staff chat
		api.GET("/messages", h.ListMessages)
		api.GET("/messages/latest", h.LatestMessage)
		api.POST("/messages", h.PostMessage)
	}
	return reqSvc
}

var (
	corsMethods = []string{"GET", "POST", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderUserRole, middleware.HeaderIdempotencyKey, "If-None-Match"}
	corsExpose = []string{"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed}
)

// corsMiddleware allows every origin when none is configured, otherwise
// echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// ACAO: * even without an Origin header, for health checks.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     corsMethods,
				AllowHeaders:     corsHeaders,
				ExposeHeaders:    corsExpose,
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
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
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody caps request bodies at maxBytes.
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
