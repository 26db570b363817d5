package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/Rzx-x/Ticket-Agent/api"
	"github.com/Rzx-x/Ticket-Agent/internal/handler"
	"github.com/Rzx-x/Ticket-Agent/internal/metrics"
	"github.com/Rzx-x/Ticket-Agent/internal/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// Health, readiness and swagger paths come from helpy/paths, shared with the other services.
const (
	PathMetrics = "/metrics"
	PathWS      = "/api/v1/ws"
)

type Options struct {
	Tickets   *handler.TicketHandler
	Submit    *handler.SubmitHandler
	Analytics *handler.AnalyticsHandler
	Health    *handler.HealthHandler
	// Stream serves live updates; nil leaves the route unregistered.
	Stream      http.Handler
	Metrics     *metrics.Metrics
	Limiter     ratelimit.Limiter
	CORSOrigins []string
	Logger      *zap.Logger
}

func New(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(RequestID(), Recovery(log), AccessLog(log.Named("http")))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware())
	}
	if opts.Limiter != nil {
		r.Use(ratelimit.Middleware(opts.Limiter, paths.PathHealth, paths.PathReady, PathMetrics, PathWS))
	}

	r.GET(paths.PathHealth, opts.Health.Health)
	r.GET(paths.PathReady, opts.Health.Ready)
	if opts.Metrics != nil {
		r.GET(PathMetrics, gin.WrapH(opts.Metrics.Handler()))
	}
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(paths.PathSwagger+"/openapi.json"))(c)
	})

	r.POST("/api/submit-ticket", opts.Submit.Submit)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/tickets", opts.Tickets.Create)
		v1.GET("/tickets", opts.Tickets.List)
		v1.GET("/tickets/:id", opts.Tickets.Get)
		v1.PUT("/tickets/:id", opts.Tickets.Update)
		v1.DELETE("/tickets/:id", opts.Tickets.Delete)
		v1.GET("/tickets/:id/interactions", opts.Tickets.ListInteractions)
		v1.POST("/tickets/:id/interactions", opts.Tickets.AddInteraction)
		v1.GET("/tickets/:id/similar", opts.Tickets.Similar)
		v1.POST("/tickets/:id/regenerate-ai-response", opts.Tickets.Regenerate)

		v1.GET("/analytics/dashboard", opts.Analytics.Dashboard)
		v1.GET("/analytics/trends", opts.Analytics.Trends)
	}
	if opts.Stream != nil {
		r.GET(PathWS, gin.WrapH(opts.Stream))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-Actor"},
		ExposeHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
