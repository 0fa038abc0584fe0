// Package config loads service configuration from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"backtest-service/services/api"
	"backtest-service/services/arrowpipeline"
	"backtest-service/services/cache"
	"backtest-service/services/clickhouse"
	"backtest-service/services/monitoring"
	"backtest-service/services/postgres"
)

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type EngineConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

type Config struct {
	Environment string               `yaml:"environment"`
	Server      ServerConfig         `yaml:"server"`
	Engine      EngineConfig         `yaml:"engine"`
	API         api.Config           `yaml:"api"`
	Postgres    postgres.Config      `yaml:"postgres"`
	ClickHouse  clickhouse.Config    `yaml:"clickhouse"`
	Redis       cache.Config         `yaml:"redis"`
	Arrow       arrowpipeline.Config `yaml:"arrow"`
	Monitoring  monitoring.Config    `yaml:"monitoring"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Environment: "dev",
		Server: ServerConfig{
			HTTPPort:        8080,
			GRPCPort:        9091,
			ShutdownTimeout: 15 * time.Second,
		},
		API:        api.Config{RateLimitRPS: 5, RateLimitBurst: 10},
		Postgres:   postgres.DefaultConfig(),
		ClickHouse: clickhouse.Config{Database: "market", Table: "candles", BatchSize: 10_000},
		Redis:      cache.Config{TTL: 15 * time.Minute},
		Arrow:      arrowpipeline.Config{BatchSize: 4096},
		Monitoring: monitoring.Config{Namespace: "backtest", Enabled: true},
	}
}

// Load reads path (when non-empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("BACKTEST_ENV", &c.Environment)
	str("POSTGRES_DSN", &c.Postgres.DSN)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("CLICKHOUSE_DATABASE", &c.ClickHouse.Database)
	str("CLICKHOUSE_USER", &c.ClickHouse.Username)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	if v, ok := lookup("CLICKHOUSE_ADDR"); ok && v != "" {
		c.ClickHouse.Addr = strings.Split(v, ",")
	}
	for key, dst := range map[string]*int{
		"BACKTEST_HTTP_PORT":   &c.Server.HTTPPort,
		"BACKTEST_GRPC_PORT":   &c.Server.GRPCPort,
		"BACKTEST_MAX_WORKERS": &c.Engine.MaxWorkers,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	validPort := func(p int) bool { return p > 0 && p < 65536 }
	switch {
	case !validPort(c.Server.HTTPPort):
		return fmt.Errorf("config: invalid http_port %d", c.Server.HTTPPort)
	case !validPort(c.Server.GRPCPort):
		return fmt.Errorf("config: invalid grpc_port %d", c.Server.GRPCPort)
	case c.Server.HTTPPort == c.Server.GRPCPort:
		return fmt.Errorf("config: http_port and grpc_port must differ")
	case c.Engine.MaxWorkers < 0:
		return fmt.Errorf("config: max_workers must be >= 0")
	}
	return nil
}

// IsDev reports whether development logging should be used.
func (c *Config) IsDev() bool { return c.Environment == "dev" || c.Environment == "development" }
