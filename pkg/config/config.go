package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/freshsave/pkg/utils"
)

type Config struct {
	Env      string       `yaml:"env" env:"ENV" env-default:"local"`
	Logger   LoggerConfig `yaml:"logger"`
	HTTP     HTTP         `yaml:"http"`
	Storage  Storage      `yaml:"storage"`
	Postgres PG           `yaml:"postgres"`
	Redis    Redis        `yaml:"redis"`
	Kafka    Kafka        `yaml:"kafka"`
	SMTP     SMTP         `yaml:"smtp"`
	Tracing  Tracing      `yaml:"tracing"`
	Limiter  Limiter      `yaml:"limiter"`
	Orders   Orders       `yaml:"orders"`
	Sweep    Sweep        `yaml:"sweep"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

// Storage selects the order/catalog backend: "postgres" or "memory".
type Storage struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
}

type PG struct {
	URL             string        `yaml:"url" env:"DB_URL"`
	MaxConns        int32         `yaml:"max_conns" env-default:"10"`
	MinConns        int32         `yaml:"min_conns" env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env-default:"1h"`
	MigrationsDir   string        `yaml:"migrations_dir" env:"MIGRATIONS_DIR" env-default:"./migrations"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	CacheTTL time.Duration `yaml:"cache_ttl" env-default:"10m"`
}

type Kafka struct {
	Brokers            string        `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	OrderTopic         string        `yaml:"order_topic" env-default:"order_events"`
	NotificationTopic  string        `yaml:"notification_topic" env-default:"notification_events"`
	NotificationGroup  string        `yaml:"notification_group" env-default:"notification-service-group"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size" env-default:"50"`
	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval" env-default:"500ms"`
	OutboxRetention    time.Duration `yaml:"outbox_retention" env-default:"168h"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	BaseURL  string `yaml:"base_url" env:"PUBLIC_BASE_URL" env-default:"http://localhost:3000"`
}

type Tracing struct {
	Endpoint    string  `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
	SampleRatio float64 `yaml:"sample_ratio" env-default:"1"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

type Orders struct {
	CancelWindow time.Duration `yaml:"cancel_window" env-default:"2m"`
	TTL          time.Duration `yaml:"ttl" env-default:"24h"`
	LapseSpec    string        `yaml:"lapse_spec" env-default:"*/10 * * * *"`
}

type Sweep struct {
	Spec                 string        `yaml:"spec" env:"SWEEP_CRON" env-default:"0 6 * * *"`
	CleanupSpec          string        `yaml:"cleanup_spec" env-default:"0 3 * * *"`
	Horizon              time.Duration `yaml:"horizon" env-default:"48h"`
	ExternalSampleRate   float64       `yaml:"external_sample_rate" env-default:"0.3"`
	LockTTL              time.Duration `yaml:"lock_ttl" env-default:"10m"`
	NotificationTTL      time.Duration `yaml:"notification_ttl" env-default:"720h"`
	NotificationRetained time.Duration `yaml:"notification_retained" env-default:"720h"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return cfg
}

func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}

	cfg.Logger.Env = cfg.Env
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required for the postgres storage driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Sweep.ExternalSampleRate < 0 || c.Sweep.ExternalSampleRate > 1 {
		return fmt.Errorf("sweep.external_sample_rate must be within [0, 1], got %v", c.Sweep.ExternalSampleRate)
	}

	return nil
}

func (k Kafka) BrokerList() []string {
	return utils.SplitList(k.Brokers)
}
