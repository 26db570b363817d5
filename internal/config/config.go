package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppHost   string
	HTTPPort  string
	AppEnv    string
	LogLevel  string
	LogFormat string
	Version   string

	// SupportTeamName signs canned replies and outbound notifications.
	SupportTeamName string
	CORSOrigins     []string

	// DatabaseURLOverride comes from DATABASE_URL and wins over the DB_* parts.
	DatabaseURLOverride string
	DB                  struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
		MaxOpen  int
		MaxIdle  int
	}

	AI struct {
		APIKey     string
		BaseURL    string
		Model      string
		Timeout    time.Duration
		MaxRetries int
	}

	Qdrant struct {
		URL        string
		APIKey     string
		Collection string
		VectorSize int
	}

	Redis struct {
		URL string
	}

	RateLimit struct {
		Enabled   bool
		PerMinute int
	}

	Kafka struct {
		Brokers []string
		Topic   string
	}

	RabbitMQ struct {
		URL      string
		Exchange string
	}

	NATS struct {
		URL           string
		SubjectPrefix string
	}

	SMTP struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
		UseTLS   bool
	}

	Twilio struct {
		AccountSID string
		AuthToken  string
		FromNumber string
	}

	GLPI struct {
		URL       string
		AppToken  string
		UserToken string
	}

	Worker struct {
		Count     int
		QueueSize int
	}

	SubmitTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:             getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:            firstEnv("APP_PORT", "HTTP_PORT", "8000"),
		AppEnv:              getEnv("APP_ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", ""),
		Version:             getEnv("APP_VERSION", "dev"),
		SupportTeamName:     getEnv("SUPPORT_TEAM_NAME", "IT Support Team"),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "*")),
		DatabaseURLOverride: getEnv("DATABASE_URL", ""),
		SubmitTimeout:       getDuration("SUBMIT_TIMEOUT", 45*time.Second),
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}

	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "ticket_agent")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.DB.MaxOpen = getInt("DB_MAX_OPEN_CONNS", 20)
	cfg.DB.MaxIdle = getInt("DB_MAX_IDLE_CONNS", 5)

	cfg.AI.APIKey = firstEnv("ANTHROPIC_API_KEY", "CLAUDE_API_KEY", "")
	cfg.AI.BaseURL = getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	cfg.AI.Model = getEnv("ANTHROPIC_MODEL", "claude-3-haiku-20240307")
	cfg.AI.Timeout = getDuration("AI_TIMEOUT", 30*time.Second)
	cfg.AI.MaxRetries = getInt("AI_MAX_RETRIES", 2)

	cfg.Qdrant.URL = getEnv("QDRANT_URL", "")
	cfg.Qdrant.APIKey = getEnv("QDRANT_API_KEY", "")
	cfg.Qdrant.Collection = getEnv("QDRANT_COLLECTION", "ticket_embeddings")
	cfg.Qdrant.VectorSize = getInt("VECTOR_SIZE", 384)

	cfg.Redis.URL = getEnv("REDIS_URL", "")
	cfg.RateLimit.PerMinute = getInt("RATE_LIMIT_PER_MINUTE", 100)
	cfg.RateLimit.Enabled = getBool("RATE_LIMIT_ENABLED", !cfg.IsDevelopment())

	cfg.Kafka.Brokers = splitList(getEnv("KAFKA_BROKERS", ""))
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC_TICKETS", "helpdesk.tickets")
	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", "")
	cfg.RabbitMQ.Exchange = getEnv("RABBITMQ_EXCHANGE", "helpdesk.events")
	cfg.NATS.URL = getEnv("NATS_URL", "")
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", "helpdesk")

	cfg.SMTP.Host = getEnv("SMTP_HOST", "")
	cfg.SMTP.Port = getInt("SMTP_PORT", 587)
	cfg.SMTP.Username = getEnv("SMTP_USERNAME", "")
	cfg.SMTP.Password = getEnv("SMTP_PASSWORD", "")
	cfg.SMTP.From = getEnv("SMTP_FROM", "")
	cfg.SMTP.UseTLS = getBool("SMTP_TLS", false)

	cfg.Twilio.AccountSID = getEnv("TWILIO_ACCOUNT_SID", "")
	cfg.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", "")
	cfg.Twilio.FromNumber = getEnv("TWILIO_FROM_NUMBER", "")

	cfg.GLPI.URL = strings.TrimRight(getEnv("GLPI_URL", ""), "/")
	cfg.GLPI.AppToken = getEnv("GLPI_APP_TOKEN", "")
	cfg.GLPI.UserToken = getEnv("GLPI_USER_TOKEN", "")

	cfg.Worker.Count = getInt("WORKER_COUNT", 4)
	cfg.Worker.QueueSize = getInt("WORKER_QUEUE_SIZE", 100)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURLOverride == "" && (c.DB.Host == "" || c.DB.Database == "") {
		return errors.New("config: DATABASE_URL or DB_HOST and DB_DATABASE are required")
	}
	if c.DatabaseURLOverride != "" {
		if _, err := url.Parse(c.DatabaseURLOverride); err != nil {
			return fmt.Errorf("config: DATABASE_URL: %w", err)
		}
	}
	if c.IsProduction() && c.DatabaseURLOverride == "" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if _, err := strconv.Atoi(c.HTTPPort); err != nil {
		return fmt.Errorf("config: APP_PORT %q is not a number", c.HTTPPort)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.RateLimit.PerMinute <= 0 {
		return errors.New("config: RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.Worker.Count <= 0 || c.Worker.QueueSize <= 0 {
		return errors.New("config: WORKER_COUNT and WORKER_QUEUE_SIZE must be positive")
	}
	if c.Qdrant.VectorSize <= 0 {
		return errors.New("config: VECTOR_SIZE must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool  { return c.AppEnv == "production" }
func (c *Config) IsDevelopment() bool { return c.AppEnv == "development" }

// DSN is what gorm's postgres driver opens. pgx accepts the URL form too.
func (c *Config) DSN() string {
	if c.DatabaseURLOverride != "" {
		return c.DatabaseURLOverride
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	if c.DatabaseURLOverride != "" {
		return c.DatabaseURLOverride
	}
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func (c *Config) AIEnabled() bool     { return c.AI.APIKey != "" }
func (c *Config) SMTPEnabled() bool   { return c.SMTP.Host != "" && c.SMTP.From != "" }
func (c *Config) TwilioEnabled() bool { return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" }
func (c *Config) GLPIEnabled() bool   { return c.GLPI.URL != "" && c.GLPI.UserToken != "" }

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// getDuration accepts Go durations ("30s") or a bare number of seconds.
func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

// splitList splits "a, b,,c" into [a b c].
func splitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
