package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"logon-forwarder/internal/util"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	DedupBackendMemory = "memory"
	DedupBackendRedis  = "redis"

	SourceKindKafka  = "kafka"
	SourceKindMemory = "memory"

	SinkLog           = "log"
	SinkKafka         = "kafka"
	SinkElasticsearch = "elasticsearch"
	SinkClickhouse    = "clickhouse"
	SinkSeq           = "seq"
)

type Config struct {
	Environment string

	App           AppConfig
	Logging       LoggingConfig
	Server        ServerConfig
	Watcher       WatcherConfig
	Source        SourceConfig
	Dedup         DedupConfig
	Heartbeat     HeartbeatConfig
	Sink          SinkConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	Redis         RedisConfig
	Seq           SeqConfig
}

type AppConfig struct {
	Name        string
	Version     string
	MachineName string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Enabled      bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
	CertDir      string
}

type WatcherConfig struct {
	LogName   string
	EventID   uint32
	Keywords  uint64
	Workers   int
	QueueSize int
	// StartRetryInterval is how long main waits before retrying a failed subscription.
	StartRetryInterval time.Duration
}

type SourceConfig struct {
	Kind       string
	KafkaTopic string
	KafkaGroup string
	// ReplayFile feeds the memory source with JSON lines at startup.
	ReplayFile string
}

type DedupConfig struct {
	Backend        string
	Policy         string
	Retention      time.Duration
	SweepInterval  time.Duration
	Shards         int
	RedisKeyPrefix string
}

type HeartbeatConfig struct {
	Interval time.Duration
	Jitter   time.Duration
}

type SinkConfig struct {
	Enabled         []string
	QueueSize       int
	Workers         int
	DrainTimeout    time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	BreakerHalfOpen uint32
	KafkaTopic      string
	ElasticIndex    string
	ClickhouseTable string
}

type KafkaConfig struct {
	Brokers []string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
	// TLS is implied by clickhouses:// and https:// URLs.
	TLS    bool
	CAFile string
}

type SeqConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// Get returns the process configuration, loading it on first use.
func Get() *Config {
	configOnce.Do(func() {
		globalConfig = LoadConfig()
	})
	return globalConfig
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Config{
		Environment: util.GetEnv("ENVIRONMENT", EnvDevelopment),
		App: AppConfig{
			Name:        util.GetEnv("APP_NAME", "logon-forwarder"),
			Version:     util.GetEnv("APP_VERSION", "0.1.0"),
			MachineName: util.GetEnv("MACHINE_NAME", hostname),
		},
		Logging: LoggingConfig{
			Level:  util.GetEnv("LOG_LEVEL", "info"),
			Format: util.GetEnv("LOG_FORMAT", "json"),
		},
		Server: ServerConfig{
			Enabled:      util.GetEnvBool("HTTP_ENABLED", true),
			Host:         util.GetEnv("HTTP_HOST", ""),
			Port:         util.GetEnvInt("HTTP_PORT", 9464),
			ReadTimeout:  util.GetEnvDuration("HTTP_READ_TIMEOUT", 5*time.Second),
			WriteTimeout: util.GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  util.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    util.GetEnvBool("HTTP_TLS_ENABLED", false),
			CertFile:     util.GetEnv("HTTP_TLS_CERT_FILE", ""),
			KeyFile:      util.GetEnv("HTTP_TLS_KEY_FILE", ""),
			CertDir:      util.GetEnv("HTTP_TLS_CERT_DIR", "./certs"),
		},
		Watcher: WatcherConfig{
			LogName:            util.GetEnv("WATCH_LOG_NAME", "Security"),
			EventID:            uint32(util.GetEnvInt("WATCH_EVENT_ID", 4624)),
			Keywords:           util.GetEnvUint64("WATCH_KEYWORDS", 0x0020000000000000),
			Workers:            util.GetEnvInt("WATCH_WORKERS", 4),
			QueueSize:          util.GetEnvInt("WATCH_QUEUE_SIZE", 256),
			StartRetryInterval: util.GetEnvDuration("WATCH_START_RETRY_INTERVAL", 30*time.Second),
		},
		Source: SourceConfig{
			Kind:       util.GetEnv("SOURCE_KIND", SourceKindKafka),
			KafkaTopic: util.GetEnv("SOURCE_KAFKA_TOPIC", "audit.security.raw"),
			KafkaGroup: util.GetEnv("SOURCE_KAFKA_GROUP", "logon-forwarder"),
			ReplayFile: util.GetEnv("SOURCE_REPLAY_FILE", ""),
		},
		Dedup: DedupConfig{
			Backend:        util.GetEnv("DEDUP_BACKEND", DedupBackendMemory),
			Policy:         util.GetEnv("DEDUP_POLICY", "absolute"),
			Retention:      util.GetEnvDuration("DEDUP_RETENTION", 10*time.Minute),
			SweepInterval:  util.GetEnvDuration("DEDUP_SWEEP_INTERVAL", time.Minute),
			Shards:         util.GetEnvInt("DEDUP_SHARDS", 16),
			RedisKeyPrefix: util.GetEnv("DEDUP_REDIS_KEY_PREFIX", "logon:seen:"),
		},
		Heartbeat: HeartbeatConfig{
			Interval: util.GetEnvDuration("HEARTBEAT_INTERVAL", time.Minute),
			Jitter:   util.GetEnvDuration("HEARTBEAT_JITTER", 5*time.Second),
		},
		Sink: SinkConfig{
			Enabled:         util.GetEnvList("SINKS", []string{SinkLog}),
			QueueSize:       util.GetEnvInt("SINK_QUEUE_SIZE", 1024),
			Workers:         util.GetEnvInt("SINK_WORKERS", 2),
			DrainTimeout:    util.GetEnvDuration("SINK_DRAIN_TIMEOUT", 10*time.Second),
			BreakerFailures: uint32(util.GetEnvInt("SINK_BREAKER_FAILURES", 5)),
			BreakerTimeout:  util.GetEnvDuration("SINK_BREAKER_TIMEOUT", 30*time.Second),
			BreakerHalfOpen: uint32(util.GetEnvInt("SINK_BREAKER_HALF_OPEN_REQUESTS", 1)),
			KafkaTopic:      util.GetEnv("SINK_KAFKA_TOPIC", "audit.logons"),
			ElasticIndex:    util.GetEnv("SINK_ELASTIC_INDEX", "logons"),
			ClickhouseTable: util.GetEnv("SINK_CLICKHOUSE_TABLE", "forwarded_events"),
		},
		Kafka: KafkaConfig{
			Brokers: util.GetEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      util.GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: util.GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password: util.GetEnv("ELASTICSEARCH_PASSWORD", ""),
		},
		Clickhouse: ClickhouseConfig{
			URL:      util.GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: util.GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: util.GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: util.GetEnv("CLICKHOUSE_DATABASE", "default"),
			TLS:      util.GetEnvBool("CLICKHOUSE_TLS", false),
			CAFile:   util.GetEnv("CLICKHOUSE_CA_FILE", ""),
		},
		Redis: RedisConfig{
			URL:      util.GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: util.GetEnv("REDIS_PASSWORD", ""),
			DB:       util.GetEnvInt("REDIS_DB", 0),
			PoolSize: util.GetEnvInt("REDIS_POOL_SIZE", 10),
		},
		Seq: SeqConfig{
			URL:     util.GetEnv("SEQ_URL", "http://localhost:5341"),
			APIKey:  util.GetEnv("SEQ_API_KEY", ""),
			Timeout: util.GetEnvDuration("SEQ_TIMEOUT", 10*time.Second),
		},
	}
}

// Validate checks the settings that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error

	if c.Watcher.Workers <= 0 {
		errs = append(errs, fmt.Errorf("WATCH_WORKERS must be positive, got %d", c.Watcher.Workers))
	}
	if c.Watcher.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("WATCH_QUEUE_SIZE must be positive, got %d", c.Watcher.QueueSize))
	}
	if c.Dedup.Retention <= 0 {
		errs = append(errs, fmt.Errorf("DEDUP_RETENTION must be positive, got %s", c.Dedup.Retention))
	}
	if c.Dedup.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("DEDUP_SWEEP_INTERVAL must be positive, got %s", c.Dedup.SweepInterval))
	}
	if c.Dedup.Shards <= 0 {
		errs = append(errs, fmt.Errorf("DEDUP_SHARDS must be positive, got %d", c.Dedup.Shards))
	}
	switch c.Dedup.Backend {
	case DedupBackendMemory, DedupBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown DEDUP_BACKEND %q", c.Dedup.Backend))
	}
	switch strings.ToLower(strings.TrimSpace(c.Dedup.Policy)) {
	case "", "absolute", "sliding":
	default:
		errs = append(errs, fmt.Errorf("unknown DEDUP_POLICY %q", c.Dedup.Policy))
	}
	switch c.Source.Kind {
	case SourceKindKafka, SourceKindMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown SOURCE_KIND %q", c.Source.Kind))
	}
	if len(c.Sink.Enabled) == 0 {
		errs = append(errs, errors.New("SINKS must name at least one sink"))
	}
	for _, name := range c.Sink.Enabled {
		switch name {
		case SinkLog, SinkKafka, SinkElasticsearch, SinkClickhouse, SinkSeq:
		default:
			errs = append(errs, fmt.Errorf("unknown sink %q in SINKS", name))
		}
	}
	if c.SinkEnabled(SinkSeq) && strings.TrimSpace(c.Seq.URL) == "" {
		errs = append(errs, errors.New("SEQ_URL is required when the seq sink is enabled"))
	}
	if c.Sink.Workers <= 0 || c.Sink.QueueSize <= 0 {
		errs = append(errs, errors.New("SINK_WORKERS and SINK_QUEUE_SIZE must be positive"))
	}

	return errors.Join(errs...)
}

// SinkEnabled reports whether the named sink is listed in SINKS.
func (c *Config) SinkEnabled(name string) bool {
	for _, s := range c.Sink.Enabled {
		if s == name {
			return true
		}
	}
	return false
}

// NeedsKafka reports whether any component talks to the Kafka brokers.
func (c *Config) NeedsKafka() bool {
	return c.Source.Kind == SourceKindKafka || c.SinkEnabled(SinkKafka)
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
