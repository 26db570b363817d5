package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/config"
	"github.com/Rzx-x/Ticket-Agent/internal/handler"
	"github.com/Rzx-x/Ticket-Agent/internal/ratelimit"
	"github.com/Rzx-x/Ticket-Agent/internal/router"
	"github.com/Rzx-x/Ticket-Agent/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/psds-microservice/helpy/paths"
	"go.uber.org/zap"
)

const (
	serviceName     = "ticket-agent"
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

// API is the HTTP server mode.
type API struct {
	*App
	queue   *service.Queue
	httpSrv *http.Server
}

func NewAPI(ctx context.Context, cfg *config.Config, log *zap.Logger) (*API, error) {
	app, err := New(ctx, cfg, log, Options{SyncSchema: true})
	if err != nil {
		return nil, err
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	queue := service.NewQueue(func(ctx context.Context, id uuid.UUID) error {
		_, err := app.Processor.Process(ctx, id)
		return err
	}, cfg.Worker.Count, cfg.Worker.QueueSize, app.Metrics, app.Log)

	checks := []handler.Check{{
		Name:     "database",
		Critical: true,
		Run:      func(ctx context.Context) error { return app.DB.WithContext(ctx).Exec("SELECT 1").Error },
	}, {
		Name: "vector_index",
		Run:  app.Index.Health,
	}}
	if app.Redis != nil {
		checks = append(checks, handler.Check{
			Name: "redis",
			Run:  func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() },
		})
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		if app.Redis != nil {
			limiter = ratelimit.NewRedisLimiter(app.Redis, cfg.RateLimit.PerMinute, app.Log.Named("ratelimit"))
		} else {
			limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.PerMinute)
		}
	}

	h := router.New(router.Options{
		Tickets:     handler.NewTicketHandler(app.Tickets, app.Processor, queue, app.Index, app.Log),
		Submit:      handler.NewSubmitHandler(app.Processor, app.Log),
		Analytics:   handler.NewAnalyticsHandler(app.Analytics, app.Log),
		Health:      handler.NewHealthHandler(serviceName, cfg.Version, checks...),
		Stream:      app.Hub,
		Metrics:     app.Metrics,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      app.Log,
	})

	return &API{
		App:   app,
		queue: queue,
		httpSrv: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// submissions wait for the AI round trip
			WriteTimeout: cfg.SubmitTimeout + 15*time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Run serves HTTP until ctx is cancelled, then drains the processing queue
// and closes every component.
func (a *API) Run(ctx context.Context) error {
	host := a.Cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.Cfg.HTTPPort
	a.Log.Info("http server listening",
		zap.String("addr", a.httpSrv.Addr),
		zap.String("swagger", base+paths.PathSwagger),
		zap.String("health", base+paths.PathHealth),
		zap.String("websocket", "ws://"+host+":"+a.Cfg.HTTPPort+router.PathWS))

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("http shutdown", zap.Error(err))
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := a.queue.Close(drainCtx); err != nil {
		a.Log.Warn("processing queue not drained", zap.Int("pending", a.queue.Len()), zap.Error(err))
	}
	closeErr := a.Close()

	if serveErr != nil {
		return fmt.Errorf("http: %w", serveErr)
	}
	return closeErr
}
