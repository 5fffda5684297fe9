package domain

import "time"

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Warehouse WarehouseConfig `json:"warehouse"`
	Cache     CacheConfig     `json:"cache"`
	EventBus  EventBusConfig  `json:"eventBus"`
	Detector  DetectorConfig  `json:"detector"`
	Ingest    IngestConfig    `json:"ingest"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// DetectorConfig holds anomaly scoring settings.
type DetectorConfig struct {
	// Contamination is the expected anomaly proportion, in (0, 0.5].
	Contamination float64 `json:"contamination"`

	// Seed makes capability fitting deterministic.
	Seed int64 `json:"seed"`

	// UseEnsemble trains both capabilities and combines their verdicts.
	UseEnsemble bool `json:"useEnsemble"`

	// Ensemble member weights; must sum to 1.
	ForestWeight   float64 `json:"forestWeight"`
	BoundaryWeight float64 `json:"boundaryWeight"`

	// ModelDir is where trained model artifacts are persisted.
	ModelDir string `json:"modelDir"`
}

// IngestConfig holds ingestion settings.
type IngestConfig struct {
	// MinBatchRows is the minimum accepted batch size.
	MinBatchRows int `json:"minBatchRows"`

	// PollIntervalSecs is how often the worker polls registered row sources.
	PollIntervalSecs int `json:"pollIntervalSecs"`
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
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns the single-node default configuration: SQLite
// warehouse, in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Warehouse: WarehouseConfig{
			Driver:     "sqlite",
			SQLitePath: "./warehouse.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detector: DetectorConfig{
			Contamination:  0.1,
			Seed:           42,
			UseEnsemble:    false,
			ForestWeight:   0.6,
			BoundaryWeight: 0.4,
			ModelDir:       "./models",
		},
		Ingest: IngestConfig{
			MinBatchRows:     10,
			PollIntervalSecs: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "anomalyd",
		},
	}
}

// ClusterConfig returns a configuration for shared-infrastructure
// deployments: PostgreSQL warehouse, Redis cache, NATS bus.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Warehouse = WarehouseConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "anomaly",
	}
	cfg.Cache = CacheConfig{
		Type:         "redis",
		RedisAddr:    "localhost:6379",
		LocalMaxSize: 1000,
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
