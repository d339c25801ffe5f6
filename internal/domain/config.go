package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// App holds pipeline-wide settings
	App AppConfig `json:"app"`

	// Generation holds synthetic-data settings
	Generation GenerationConfig `json:"generation"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	// RulesPath is the location of the declarative rules file.
	RulesPath string `json:"rulesPath"`
}

// AppConfig holds pipeline-wide settings.
type AppConfig struct {
	// Timezone is the zone used for hour-of-day rule predicates.
	Timezone string `json:"timezone"`

	// Seed drives deterministic synthetic generation.
	Seed int64 `json:"seed"`

	// BatchSize bounds bulk-insert statement sizes.
	BatchSize int `json:"batchSize"`

	// ScoreWindowDays is the default trailing window for rule scoring.
	// 0 means score all transactions.
	ScoreWindowDays int `json:"scoreWindowDays"`

	// MaxWorkers bounds per-card and per-rule parallelism.
	MaxWorkers int `json:"maxWorkers"`
}

// GenerationConfig holds synthetic-data generation settings.
type GenerationConfig struct {
	NumCustomers        int      `json:"numCustomers"`
	Merchants           int      `json:"merchants"`
	CardsPerAccountMean float64  `json:"cardsPerAccountMean"`
	FraudRatio          float64  `json:"fraudRatio"`
	Regions             []string `json:"regions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns a standalone configuration: SQLite, in-process cache
// and channel bus. Runs with no external services.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		App: AppConfig{
			Timezone:        "UTC",
			Seed:            42,
			BatchSize:       5000,
			ScoreWindowDays: 2,
			MaxWorkers:      8,
		},
		Generation: GenerationConfig{
			NumCustomers:        2000,
			Merchants:           300,
			CardsPerAccountMean: 1.3,
			FraudRatio:          0.003,
			Regions:             []string{"NE", "SE", "MW", "SW", "W"},
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		RulesPath: "./config/rules.yaml",
	}
}

// ClusterConfig returns a configuration backed by PostgreSQL, Redis and NATS.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
