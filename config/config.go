package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/scheduler"
)

// EnvPrefix prefixes every environment variable, e.g. FERN_DATABASE_HOST
const EnvPrefix = "FERN"

type Config struct {
	AppName            string `mapstructure:"app_name" validate:"required"`
	LogLevel           string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	PrettyLogs         bool   `mapstructure:"pretty_logs"`
	StartupMaxAttempts int    `mapstructure:"startup_max_attempts" validate:"gte=1"`

	Database  DatabaseConfig          `mapstructure:"database"`
	Pipeline  PipelineConfig          `mapstructure:"pipeline"`
	Matching  MatchingConfig          `mapstructure:"matching"`
	Bounds    normalizers.BoundingBox `mapstructure:"bounds"`
	Redis     redis.Config            `mapstructure:"redis"`
	Kafka     kafka.ProducerConfig    `mapstructure:"kafka"`
	Graph     graph.Config            `mapstructure:"graph"`
	Tracing   TracingConfig           `mapstructure:"tracing"`
	Metrics   MetricsConfig           `mapstructure:"metrics"`
	Scheduler scheduler.Config        `mapstructure:"scheduler"`
	Jobs      JobsConfig              `mapstructure:"jobs"`
}

type DatabaseConfig struct {
	// URL wins over the individual connection fields when set
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host" validate:"required_without=URL"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name" validate:"required_without=URL"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the postgres connection string
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	return u.String()
}

type PipelineConfig struct {
	// BatchTimeout bounds one import or promotion run
	BatchTimeout time.Duration `mapstructure:"batch_timeout" validate:"gte=0"`
	Concurrency  int           `mapstructure:"concurrency" validate:"gte=1"`
	// Actor is attributed to every mutation unless --actor overrides it
	Actor string `mapstructure:"actor"`
}

type MatchingConfig struct {
	// MinSubstringLen is the shortest name allowed to match by containment
	MinSubstringLen int `mapstructure:"min_substring_len" validate:"gte=1"`
}

type TracingConfig struct {
	// Endpoint enables OTLP export when set
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol" validate:"omitempty,oneof=grpc http"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" validate:"omitempty,url"`
}

type JobsConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	BatchSize   int           `mapstructure:"batch_size" validate:"gte=1"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "fern")
	v.SetDefault("log_level", "info")
	v.SetDefault("pretty_logs", false)
	v.SetDefault("startup_max_attempts", 5)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "fern")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("pipeline.batch_timeout", 10*time.Minute)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.actor", "")

	v.SetDefault("matching.min_substring_len", 3)

	// deployment region
	v.SetDefault("bounds.min_lat", -25.0)
	v.SetDefault("bounds.max_lat", -10.0)
	v.SetDefault("bounds.min_lng", -65.0)
	v.SetDefault("bounds.max_lng", -50.0)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "fern-events")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", 100*time.Millisecond)
	v.SetDefault("kafka.required_acks", 1)
	v.SetDefault("kafka.compression", "snappy")

	v.SetDefault("graph.host", "")
	v.SetDefault("graph.port", 7687)
	v.SetDefault("graph.username", "")
	v.SetDefault("graph.password", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", "grpc")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("metrics.pushgateway_url", "")

	v.SetDefault("scheduler.poll_interval", scheduler.DefaultPollInterval)
	v.SetDefault("scheduler.lock_ttl", scheduler.DefaultLockTTL)

	v.SetDefault("jobs.idle_timeout", 30*time.Minute)
	v.SetDefault("jobs.batch_size", 500)
}

// Load reads .env when present, then the optional config file, then FERN_* environment variables.
// Later sources override earlier ones.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if c.Bounds.MinLat > c.Bounds.MaxLat || c.Bounds.MinLng > c.Bounds.MaxLng {
		return errors.New("invalid config: bounds minimum exceeds maximum")
	}
	return nil
}
