package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска кассы.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — список брокеров через запятую; пусто означает работу без Kafka.
	KafkaBrokers  string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	JWTSecret string
	// Timezone — IANA-имя пояса для календарных границ истории и статистики.
	Timezone string
	// ViewTTL — через сколько перечитывать представление владельца из хранилища; 0 — никогда.
	ViewTTL time.Duration
	// CORSOrigins — разрешённые источники через запятую; "*" разрешает все.
	CORSOrigins string

	LogLevel  string
	LogFormat string
}

// DefaultConfig возвращает настройки по умолчанию. JWTSecret не задаётся.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaTopic:    kafka.TopicOrderEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		Timezone:    "Local",
		CORSOrigins: "*",
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// LoadConfigFromEnv читает .env (если он есть) и переменные POS_* поверх DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	env := envReader{}

	env.str("POS_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("POS_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("POS_METRICS_ADDR", &cfg.MetricsAddr)

	var driver string
	if env.str("POS_STORAGE_DRIVER", &driver) {
		cfg.StorageDriver = StorageDriver(strings.ToLower(driver))
	}
	env.str("POS_POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("POS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)

	env.str("POS_KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.str("POS_KAFKA_TOPIC", &cfg.KafkaTopic)
	env.str("POS_KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)

	env.duration("POS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.integer("POS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.integer("POS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("POS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	env.integer("POS_OUTBOX_MAX_PENDING", &cfg.OutboxMaxPending)

	env.duration("POS_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	env.duration("POS_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	env.integer("POS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	env.str("POS_JWT_SECRET", &cfg.JWTSecret)
	env.str("POS_TIMEZONE", &cfg.Timezone)
	env.duration("POS_VIEW_TTL", &cfg.ViewTTL)
	env.str("POS_CORS_ORIGINS", &cfg.CORSOrigins)
	env.str("POS_LOG_LEVEL", &cfg.LogLevel)
	env.str("POS_LOG_FORMAT", &cfg.LogFormat)

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("POS_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("POS_JWT_SECRET is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 || c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval, batch size and max attempts must be positive"))
	}
	if c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency cleanup interval and batch size must be positive"))
	}
	if c.ViewTTL < 0 {
		errs = append(errs, errors.New("POS_VIEW_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

// Location возвращает часовой пояс кассы.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("POS_TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// Brokers возвращает список брокеров Kafka без пустых элементов.
func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// Origins возвращает список разрешённых CORS-источников.
func (c Config) Origins() []string {
	origins := splitList(c.CORSOrigins)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envReader собирает ошибки разбора, чтобы сообщить обо всех переменных сразу.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (r *envReader) str(key string, dst *string) bool {
	value, ok := r.lookup(key)
	if ok {
		*dst = value
	}
	return ok
}

func (r *envReader) integer(key string, dst *int) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return
	}
	*dst = parsed
}

func (r *envReader) boolean(key string, dst *bool) {
	value, ok := r.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, value))
		return
	}
	*dst = parsed
}
