package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"qbenchsim/services/engine"
)

type ServerConfig struct {
	HTTPPort int `env:"QBENCH_HTTP_PORT" envDefault:"8080"`
	GRPCPort int `env:"QBENCH_GRPC_PORT" envDefault:"9091"`
}

type EngineConfig struct {
	DatasetsPath   string `env:"DATASETS_PATH" envDefault:"datasets"`
	Dataset        string `env:"DATASET_NAME" envDefault:"dataset"`
	RandomBatchMax int    `env:"QBENCH_RANDOM_BATCH_MAX" envDefault:"4096"`
}

type DatasetConfig struct {
	IndexTTL        time.Duration `env:"QBENCH_INDEX_TTL" envDefault:"5m"`
	IndexCapacity   int           `env:"QBENCH_INDEX_CAPACITY" envDefault:"64"`
	DownloadRetries uint          `env:"QBENCH_DOWNLOAD_RETRIES" envDefault:"5"`
	DownloadTimeout time.Duration `env:"QBENCH_DOWNLOAD_TIMEOUT" envDefault:"10m"`
}

// ClickHouseConfig enables the sampling ledger when Addr is set.
type ClickHouseConfig struct {
	Addr      string        `env:"CLICKHOUSE_ADDR"`
	Database  string        `env:"CLICKHOUSE_DATABASE" envDefault:"qbench"`
	User      string        `env:"CLICKHOUSE_USER" envDefault:"default"`
	Password  string        `env:"CLICKHOUSE_PASSWORD"`
	Table     string        `env:"CLICKHOUSE_TABLE" envDefault:"retrievals"`
	BatchSize int           `env:"CLICKHOUSE_BATCH_SIZE" envDefault:"256"`
	Timeout   time.Duration `env:"CLICKHOUSE_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether a ledger should be attached.
func (c ClickHouseConfig) Enabled() bool { return c.Addr != "" }

type Config struct {
	Environment string `env:"QBENCH_ENV" envDefault:"dev"`
	LogLevel    string `env:"QBENCH_LOG_LEVEL" envDefault:"info"`
	Server      ServerConfig
	Engine      EngineConfig
	Dataset     DatasetConfig
	ClickHouse  ClickHouseConfig
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.Engine.RandomBatchMax < engine.DefaultRandomBatchMin {
		return nil, fmt.Errorf("QBENCH_RANDOM_BATCH_MAX must be >= %d, got %d", engine.DefaultRandomBatchMin, cfg.Engine.RandomBatchMax)
	}
	return &cfg, nil
}

// EngineConfig converts the environment view into engine settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		DatasetsPath:   c.Engine.DatasetsPath,
		Dataset:        c.Engine.Dataset,
		RandomBatchMax: c.Engine.RandomBatchMax,
	}
}

// NewLogger builds a JSON production logger in prod and a console
// development logger elsewhere, at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	zc := zap.NewDevelopmentConfig()
	if c.Environment == "prod" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build(zap.Fields(zap.String("env", c.Environment)))
}
