package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	TempID    TempIDConfig    `yaml:"tempid" mapstructure:"tempid"`
	Strategy  model.Strategy  `yaml:"strategy" mapstructure:"strategy"`
	Directory DirectoryConfig `yaml:"directory" mapstructure:"directory"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Overrides OverridesConfig `yaml:"overrides" mapstructure:"overrides"`
	Learn     LearnConfig     `yaml:"learn" mapstructure:"learn"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TempIDConfig holds the deployment secret for temporary identifiers.
type TempIDConfig struct {
	Salt string `yaml:"salt" mapstructure:"salt"`
}

// DirectoryConfig configures the external company directory client. An
// empty BaseURL disables the external tier.
type DirectoryConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Token             string  `yaml:"token" mapstructure:"token"`
	TokenExpiresAt    string  `yaml:"token_expires_at" mapstructure:"token_expires_at"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec        float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	DefaultConfidence float64 `yaml:"default_confidence" mapstructure:"default_confidence"`
}

// Timeout returns the per-request timeout.
func (d DirectoryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSecs) * time.Second
}

// QueueConfig configures the deferred-resolution worker.
type QueueConfig struct {
	BatchSize        int      `yaml:"batch_size" mapstructure:"batch_size"`
	IntervalSecs     int      `yaml:"interval_secs" mapstructure:"interval_secs"`
	RetrySchedule    []string `yaml:"retry_schedule" mapstructure:"retry_schedule"`
	StaleAfterMins   int      `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	BreakerFailures  int      `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int      `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Interval returns the time between worker ticks.
func (q QueueConfig) Interval() time.Duration {
	return time.Duration(q.IntervalSecs) * time.Second
}

// StaleAfter returns how long a claim may be held before it is recovered.
func (q QueueConfig) StaleAfter() time.Duration {
	return time.Duration(q.StaleAfterMins) * time.Minute
}

// Schedule parses the retry ladder.
func (q QueueConfig) Schedule() (resilience.Schedule, error) {
	return resilience.ParseSchedule(q.RetrySchedule)
}

// OverridesConfig names the static override file of each tier.
type OverridesConfig struct {
	PlanCodeFile     string `yaml:"plan_code_file" mapstructure:"plan_code_file"`
	CompositeFile    string `yaml:"composite_file" mapstructure:"composite_file"`
	CustomerNameFile string `yaml:"customer_name_file" mapstructure:"customer_name_file"`
}

// LearnConfig configures domain learning.
type LearnConfig struct {
	MinSampleSize int `yaml:"min_sample_size" mapstructure:"min_sample_size"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("tempid.salt", "")
	v.SetDefault("strategy.external", true)
	v.SetDefault("strategy.sync_budget", 25)
	v.SetDefault("strategy.backflow", true)
	v.SetDefault("strategy.async", true)
	v.SetDefault("directory.base_url", "")
	v.SetDefault("directory.token", "")
	v.SetDefault("directory.token_expires_at", "")
	v.SetDefault("directory.timeout_secs", 5)
	v.SetDefault("directory.rate_per_sec", 5.0)
	v.SetDefault("directory.default_confidence", 0.95)
	v.SetDefault("queue.batch_size", 50)
	v.SetDefault("queue.interval_secs", 60)
	v.SetDefault("queue.retry_schedule", []string{"1m", "5m", "15m"})
	v.SetDefault("queue.stale_after_mins", 15)
	v.SetDefault("queue.breaker_failures", 5)
	v.SetDefault("queue.breaker_reset_secs", 60)
	v.SetDefault("overrides.plan_code_file", "")
	v.SetDefault("overrides.composite_file", "")
	v.SetDefault("overrides.customer_name_file", "")
	v.SetDefault("learn.min_sample_size", 20)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of resolve,
// queue, learn, serve, overrides or migrate. All problems are reported in
// one error.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	needSalt, needStrategy, needQueue, needServer := false, false, false, false
	switch mode {
	case "resolve":
		needSalt, needStrategy = true, true
	case "queue":
		needQueue = true
	case "learn":
		needStrategy = true
	case "serve":
		needSalt, needQueue, needServer = true, true, true
	case "overrides", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needSalt && c.TempID.Salt == "" {
		add("tempid.salt is required")
	}
	if needStrategy {
		if err := c.Strategy.Validate(); err != nil {
			add("%s", err.Error())
		}
	} else if c.Strategy.SyncBudget < 0 {
		add("strategy.sync_budget must be >= 0")
	}
	if needQueue {
		if _, err := c.Queue.Schedule(); err != nil {
			add("queue.retry_schedule: %s", err.Error())
		}
		if c.Queue.BatchSize < 1 {
			add("queue.batch_size must be > 0")
		}
		if c.Queue.IntervalSecs < 1 {
			add("queue.interval_secs must be > 0")
		}
	}
	if needServer && c.Server.Port <= 0 {
		add("server.port must be > 0")
	}
	if c.Directory.DefaultConfidence < 0 || c.Directory.DefaultConfidence > 1 {
		add("directory.default_confidence must be between 0 and 1")
	}
	if _, err := time.Parse(time.RFC3339, c.Directory.TokenExpiresAt); c.Directory.TokenExpiresAt != "" && err != nil {
		add("directory.token_expires_at must be RFC 3339")
	}
	if c.Learn.MinSampleSize < 0 {
		add("learn.min_sample_size must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
