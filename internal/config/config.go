package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Prefix is prepended to every environment key.
const Prefix = "THROTTLER_"

// Sources that can feed the bus.
const (
	SourceGenerator = "generator"
	SourceWebsocket = "websocket"
	SourcePoll      = "poll"
	SourceRedis     = "redis"
	SourceKafka     = "kafka"
)

// Config holds the service configuration. Every field maps to a
// THROTTLER_-prefixed environment variable.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Source string `env:"SOURCE" envDefault:"generator"`

	FeedURL      string        `env:"FEED_URL"`
	PollURL      string        `env:"POLL_URL"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`

	RedisAddr    string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"rates.*"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"rates"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"rate-throttler"`

	Pairs             []string      `env:"PAIRS" envDefault:"EURUSD,GBPUSD,USDJPY,USDCHF,AUDUSD,USDCAD,NZDUSD" envSeparator:","`
	GeneratorInterval time.Duration `env:"GENERATOR_INTERVAL" envDefault:"10ms"`

	// JournalDir "-" disables the CSV journal and history preload.
	JournalDir  string `env:"JOURNAL_DIR" envDefault:"logs"`
	HistorySize int    `env:"HISTORY_SIZE" envDefault:"3600"`
}

// Load reads an optional .env file into the process environment, then
// parses and validates the configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{Prefix: Prefix})
}

// Parse reads the configuration from environ instead of the process
// environment. Keys carry the THROTTLER_ prefix.
func Parse(environ map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// JournalEnabled reports whether rates are journaled to disk.
func (c *Config) JournalEnabled() bool {
	return c.JournalDir != "" && c.JournalDir != "-"
}

// Validate checks the fields the selected source depends on.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log format %q: want json or console", c.LogFormat))
	}
	if c.HistorySize < 1 {
		errs = append(errs, errors.New("history size must be positive"))
	}

	switch c.Source {
	case SourceGenerator:
		if len(c.Pairs) == 0 {
			errs = append(errs, errors.New("generator needs at least one pair"))
		}
	case SourceWebsocket:
		if c.FeedURL == "" {
			errs = append(errs, errors.New("websocket source needs FEED_URL"))
		}
	case SourcePoll:
		if c.PollURL == "" {
			errs = append(errs, errors.New("poll source needs POLL_URL"))
		}
		if c.PollInterval <= 0 {
			errs = append(errs, errors.New("poll interval must be positive"))
		}
	case SourceRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis source needs REDIS_ADDR"))
		}
	case SourceKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			errs = append(errs, errors.New("kafka source needs KAFKA_BROKERS and KAFKA_TOPIC"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewLogger builds a zap logger. format is "json" for production output or
// "console" for human-readable development output.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
