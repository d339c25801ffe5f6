// Package config loads Kestrel configuration from the environment and an
// optional YAML settings file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// settings mirrors the YAML settings file. Every field is optional; absent
// fields keep their defaults. String values may reference environment
// variables with ${NAME}.
type settings struct {
	Server struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		ReadTimeout  int    `yaml:"read_timeout"`
		WriteTimeout int    `yaml:"write_timeout"`
	} `yaml:"server"`

	App struct {
		Timezone        string `yaml:"timezone"`
		Seed            *int64 `yaml:"seed"`
		BatchSize       int    `yaml:"batch_size"`
		ScoreWindowDays *int   `yaml:"score_window_days"`
		MaxWorkers      int    `yaml:"max_workers"`
	} `yaml:"app"`

	Generation struct {
		NumCustomers        int      `yaml:"num_customers"`
		Merchants           int      `yaml:"merchants"`
		CardsPerAccountMean float64  `yaml:"cards_per_account_mean"`
		FraudRatio          float64  `yaml:"fraud_ratio"`
		Regions             []string `yaml:"regions"`
	} `yaml:"generation"`

	Database struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		User       string `yaml:"user"`
		Password   string `yaml:"password"`
		Name       string `yaml:"name"`
		SSLMode    string `yaml:"ssl_mode"`
	} `yaml:"database"`

	Cache struct {
		Type         string `yaml:"type"`
		RedisAddr    string `yaml:"redis_addr"`
		RedisDB      int    `yaml:"redis_db"`
		TwoPhase     *bool  `yaml:"two_phase"`
		LocalMaxSize int    `yaml:"local_max_size"`
	} `yaml:"cache"`

	Bus struct {
		Type    string `yaml:"type"`
		NATSUrl string `yaml:"nats_url"`
	} `yaml:"bus"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     *bool  `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
		Endpoint    string `yaml:"endpoint"`
	} `yaml:"tracing"`

	RulesPath string `yaml:"rules_path"`
}

// Load builds the configuration: defaults, then the YAML settings file if
// path is non-empty, then environment overrides. A .env file in the working
// directory is applied first, without clobbering variables already set.
func Load(path string) (*domain.Config, error) {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_CLUSTER") == "true" {
		cfg = domain.ClusterConfig()
	}

	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyFile(cfg *domain.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var s settings
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
		return fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	if s.Server.Host != "" {
		cfg.Server.Host = s.Server.Host
	}
	if s.Server.Port != 0 {
		cfg.Server.Port = s.Server.Port
	}
	if s.Server.ReadTimeout != 0 {
		cfg.Server.ReadTimeout = s.Server.ReadTimeout
	}
	if s.Server.WriteTimeout != 0 {
		cfg.Server.WriteTimeout = s.Server.WriteTimeout
	}

	if s.App.Timezone != "" {
		cfg.App.Timezone = s.App.Timezone
	}
	if s.App.Seed != nil {
		cfg.App.Seed = *s.App.Seed
	}
	if s.App.BatchSize != 0 {
		cfg.App.BatchSize = s.App.BatchSize
	}
	if s.App.ScoreWindowDays != nil {
		cfg.App.ScoreWindowDays = *s.App.ScoreWindowDays
	}
	if s.App.MaxWorkers != 0 {
		cfg.App.MaxWorkers = s.App.MaxWorkers
	}

	if s.Generation.NumCustomers != 0 {
		cfg.Generation.NumCustomers = s.Generation.NumCustomers
	}
	if s.Generation.Merchants != 0 {
		cfg.Generation.Merchants = s.Generation.Merchants
	}
	if s.Generation.CardsPerAccountMean != 0 {
		cfg.Generation.CardsPerAccountMean = s.Generation.CardsPerAccountMean
	}
	if s.Generation.FraudRatio != 0 {
		cfg.Generation.FraudRatio = s.Generation.FraudRatio
	}
	if len(s.Generation.Regions) > 0 {
		cfg.Generation.Regions = s.Generation.Regions
	}

	if s.Database.Driver != "" {
		cfg.Repository.Driver = s.Database.Driver
	}
	if s.Database.SQLitePath != "" {
		cfg.Repository.SQLitePath = s.Database.SQLitePath
	}
	if s.Database.Host != "" {
		cfg.Repository.PostgresHost = s.Database.Host
	}
	if s.Database.Port != 0 {
		cfg.Repository.PostgresPort = s.Database.Port
	}
	if s.Database.User != "" {
		cfg.Repository.PostgresUser = s.Database.User
	}
	if s.Database.Password != "" {
		cfg.Repository.PostgresPassword = s.Database.Password
	}
	if s.Database.Name != "" {
		cfg.Repository.PostgresDB = s.Database.Name
	}
	if s.Database.SSLMode != "" {
		cfg.Repository.PostgresSSLMode = s.Database.SSLMode
	}

	if s.Cache.Type != "" {
		cfg.Cache.Type = s.Cache.Type
	}
	if s.Cache.RedisAddr != "" {
		cfg.Cache.RedisAddr = s.Cache.RedisAddr
	}
	if s.Cache.RedisDB != 0 {
		cfg.Cache.RedisDB = s.Cache.RedisDB
	}
	if s.Cache.TwoPhase != nil {
		cfg.Cache.EnableTwoPhase = *s.Cache.TwoPhase
	}
	if s.Cache.LocalMaxSize != 0 {
		cfg.Cache.LocalMaxSize = s.Cache.LocalMaxSize
	}

	if s.Bus.Type != "" {
		cfg.EventBus.Type = s.Bus.Type
	}
	if s.Bus.NATSUrl != "" {
		cfg.EventBus.NATSUrl = s.Bus.NATSUrl
	}

	if s.Logging.Level != "" {
		cfg.Logging.Level = s.Logging.Level
	}
	if s.Logging.Format != "" {
		cfg.Logging.Format = s.Logging.Format
	}

	if s.Tracing.Enabled != nil {
		cfg.Tracing.Enabled = *s.Tracing.Enabled
	}
	if s.Tracing.ServiceName != "" {
		cfg.Tracing.ServiceName = s.Tracing.ServiceName
	}
	if s.Tracing.Endpoint != "" {
		cfg.Tracing.Endpoint = s.Tracing.Endpoint
	}

	if s.RulesPath != "" {
		cfg.RulesPath = s.RulesPath
	}

	return nil
}

// applyEnv applies environment overrides on top of file settings.
func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("KESTREL_TIMEZONE"); v != "" {
		cfg.App.Timezone = v
	}
	if v := os.Getenv("KESTREL_RULES_PATH"); v != "" {
		cfg.RulesPath = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.Driver = "sqlite"
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		applyDatabaseURL(cfg, v)
	}
}

// applyDatabaseURL parses a postgres:// connection URL, the form most managed
// databases hand out.
func applyDatabaseURL(cfg *domain.Config, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return
	}

	cfg.Repository.Driver = "postgres"
	cfg.Repository.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Repository.PostgresPort = p
		}
	}
	if u.User != nil {
		cfg.Repository.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			cfg.Repository.PostgresPassword = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		cfg.Repository.PostgresDB = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		cfg.Repository.PostgresSSLMode = mode
	}
}
