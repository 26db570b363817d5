// Package application assembles the service from configuration: storage,
// brokers, the vector index, AI and notification clients.
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/ai"
	"github.com/Rzx-x/Ticket-Agent/internal/cache"
	"github.com/Rzx-x/Ticket-Agent/internal/config"
	"github.com/Rzx-x/Ticket-Agent/internal/database"
	"github.com/Rzx-x/Ticket-Agent/internal/events"
	"github.com/Rzx-x/Ticket-Agent/internal/glpi"
	"github.com/Rzx-x/Ticket-Agent/internal/metrics"
	"github.com/Rzx-x/Ticket-Agent/internal/notify"
	"github.com/Rzx-x/Ticket-Agent/internal/searchindex"
	"github.com/Rzx-x/Ticket-Agent/internal/service"
	"github.com/Rzx-x/Ticket-Agent/pkg/resilient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds the long-lived components shared by the CLI commands.
type App struct {
	Cfg       *config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	Hub       *events.Hub
	Publisher events.Publisher
	Index     *searchindex.Index
	Tickets   *service.TicketService
	Processor *service.Processor
	Analytics *service.AnalyticsService
	Metrics   *metrics.Metrics

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

type Options struct {
	// SyncSchema creates the database when missing and migrates the tables.
	SyncSchema bool
	// DB replaces the connection opened from configuration. The caller owns it.
	DB *gorm.DB
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Cfg: cfg, Log: log, Metrics: metrics.New()}
	if err := a.init(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg, log := a.Cfg, a.Log

	db := opts.DB
	if db == nil {
		if opts.SyncSchema {
			if err := database.EnsureDatabase(cfg.DatabaseURL(), log); err != nil {
				log.Warn("ensure database skipped", zap.Error(err))
			}
		}
		var err error
		db, err = database.Open(cfg.DSN(), database.Options{
			MaxOpenConns: cfg.DB.MaxOpen,
			MaxIdleConns: cfg.DB.MaxIdle,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		a.onClose("database", func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}
	a.DB = db
	if opts.SyncSchema {
		if err := database.SyncSchema(db); err != nil {
			return err
		}
	}

	// Everything past the database is optional: a dependency that cannot be
	// reached is logged and left out.
	if cfg.Redis.URL != "" {
		rdb, err := cache.NewRedis(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warn("redis unavailable, running without cache and shared rate limit", zap.Error(err))
		} else {
			a.Redis = rdb
			a.onClose("redis", rdb.Close)
		}
	}

	a.initEvents()
	a.initIndex(ctx)

	a.Tickets = service.NewTicketService(db, a.Publisher, log)
	analyzer, err := a.newAnalyzer()
	if err != nil {
		return err
	}
	a.Processor = service.NewProcessor(a.Tickets, analyzer, service.ProcessorOptions{
		Index:         a.Index,
		Notifier:      a.newDispatcher(),
		Metrics:       a.Metrics,
		Logger:        log,
		SubmitTimeout: cfg.SubmitTimeout,
	})

	var c cache.Cache
	if a.Redis != nil {
		c = cache.NewRedisCache(a.Redis, "ticket-agent")
	}
	a.Analytics = service.NewAnalyticsService(db, c, log)
	return nil
}

func (a *App) initEvents() {
	cfg, log := a.Cfg, a.Log
	a.Hub = events.NewHub(log.Named("hub"), events.HubOptions{
		OriginPatterns: cfg.CORSOrigins,
		OnClients:      a.Metrics.SetWSClients,
	})
	pubs := events.Fanout{a.Hub}

	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		pubs = append(pubs, kp)
		a.onClose("kafka", kp.Close)
		log.Info("kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	if cfg.RabbitMQ.URL != "" {
		if rp, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange); err != nil {
			log.Warn("rabbitmq publisher disabled", zap.Error(err))
		} else {
			pubs = append(pubs, rp)
			a.onClose("rabbitmq", rp.Close)
			log.Info("rabbitmq publisher enabled", zap.String("exchange", cfg.RabbitMQ.Exchange))
		}
	}
	if cfg.NATS.URL != "" {
		if np, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix); err != nil {
			log.Warn("nats publisher disabled", zap.Error(err))
		} else {
			pubs = append(pubs, np)
			a.onClose("nats", np.Close)
			log.Info("nats publisher enabled", zap.String("prefix", cfg.NATS.SubjectPrefix))
		}
	}
	a.Publisher = pubs
}

func (a *App) initIndex(ctx context.Context) {
	cfg, log := a.Cfg, a.Log
	var backend searchindex.Backend
	if cfg.Qdrant.URL != "" {
		qb, err := searchindex.NewQdrantBackend(cfg.Qdrant.URL, cfg.Qdrant.APIKey, log.Named("qdrant"))
		if err != nil {
			log.Warn("qdrant unavailable, similar-ticket search uses an in-memory index", zap.Error(err))
		} else {
			backend = qb
		}
	} else {
		log.Warn("QDRANT_URL not set, similar-ticket search uses an in-memory index")
	}
	if backend == nil {
		backend = searchindex.NewMemoryBackend()
	}
	a.Index = searchindex.New(backend, searchindex.NewHashEmbedder(cfg.Qdrant.VectorSize), cfg.Qdrant.Collection, log.Named("index"))
	a.onClose("index", a.Index.Close)

	ictx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.Index.EnsureCollection(ictx); err != nil {
		log.Warn("vector collection not ready", zap.String("collection", a.Index.Collection()), zap.Error(err))
	}
}

func (a *App) newAnalyzer() (*ai.Service, error) {
	cfg := a.Cfg
	var llm ai.Completer
	if cfg.AIEnabled() {
		client, err := ai.NewClient(ai.ClientConfig{
			APIKey:     cfg.AI.APIKey,
			BaseURL:    cfg.AI.BaseURL,
			Model:      cfg.AI.Model,
			Timeout:    cfg.AI.Timeout,
			MaxRetries: cfg.AI.MaxRetries,
			Logger:     a.Log.Named("anthropic"),
		})
		if err != nil {
			return nil, err
		}
		llm = client
	} else {
		a.Log.Warn("ANTHROPIC_API_KEY not set, tickets get fallback classification and replies")
	}
	return ai.NewService(llm, ai.Options{TeamName: cfg.SupportTeamName, Logger: a.Log}), nil
}

func (a *App) newDispatcher() *notify.Dispatcher {
	cfg := a.Cfg
	var (
		mail notify.Mailer
		sms  notify.Texter
	)
	if cfg.SMTPEnabled() {
		mail = notify.NewEmailSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			UseTLS:   cfg.SMTP.UseTLS,
		})
	}
	if cfg.TwilioEnabled() {
		sms = notify.NewSMSSender(notify.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			FromNumber: cfg.Twilio.FromNumber,
		}, resilient.WithTimeout(10*time.Second), resilient.WithLogger(a.Log.Named("twilio")))
	}
	return notify.NewDispatcher(mail, sms, cfg.SupportTeamName, a.Log.Named("notify"))
}

// GLPI returns a client for the configured GLPI instance.
func (a *App) GLPI() (*glpi.Client, error) {
	cfg := a.Cfg
	hc := resilient.New(resilient.WithTimeout(20*time.Second), resilient.WithLogger(a.Log.Named("glpi")))
	return glpi.New(glpi.Config{URL: cfg.GLPI.URL, AppToken: cfg.GLPI.AppToken, UserToken: cfg.GLPI.UserToken}, hc, a.Log.Named("glpi"))
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Log.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
