package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"logon-forwarder/internal/client"
	"logon-forwarder/internal/config"
	"logon-forwarder/internal/dedup"
	"logon-forwarder/internal/eventsource"
	"logon-forwarder/internal/heartbeat"
	"logon-forwarder/internal/models"
	"logon-forwarder/internal/sink"
	"logon-forwarder/internal/util"
	"logon-forwarder/internal/watcher"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config
	app    models.AppInfo
	logger *zap.Logger

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	seqClient        *client.SeqClient

	cache        dedup.Cache
	sink         *sink.Multi
	source       eventsource.Source
	memorySource *eventsource.MemorySource
	watcher      *watcher.Watcher
	heartbeat    *heartbeat.Reporter

	closeOnce sync.Once
}

// NewFactory loads configuration and builds every component the enabled
// settings need.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		app: models.AppInfo{
			Name:        cfg.App.Name,
			Version:     cfg.App.Version,
			MachineName: cfg.App.MachineName,
			InstanceID:  uuid.NewString(),
		},
		logger: util.Get(),
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeComponents(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("instance_id", factory.app.InstanceID),
		util.String("machine", factory.app.MachineName),
		util.String("source", cfg.Source.Kind),
		util.String("dedup_backend", cfg.Dedup.Backend),
		zap.Strings("sinks", cfg.Sink.Enabled),
	)

	return factory, nil
}

// initializeClients connects only the backends the configuration uses.
// Outside production a failed optional sink backend is logged and skipped;
// the source and the dedup backend are always required.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error
	optional := func(name string, err error) {
		if f.config.IsProduction() {
			initErrors = append(initErrors, fmt.Errorf("%s: %w", name, err))
			return
		}
		util.Warn("Sink backend unavailable - proceeding without it",
			util.String("sink", name),
			util.ErrorField(err),
		)
	}

	// Redis
	if f.config.Dedup.Backend == config.DedupBackendRedis {
		if c, err := client.NewRedisClient(f.config, util.Named("redis")); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	// Kafka
	if f.config.NeedsKafka() {
		if err := client.HealthCheckKafka(ctx, f.config.Kafka.Brokers); err != nil {
			if f.config.Source.Kind == config.SourceKindKafka {
				initErrors = append(initErrors, fmt.Errorf("kafka health check: %w", err))
			} else {
				optional(config.SinkKafka, err)
			}
		} else {
			util.Info("Kafka brokers reachable", zap.Strings("brokers", f.config.Kafka.Brokers))
		}
	}
	if f.config.SinkEnabled(config.SinkKafka) {
		if producer, err := client.NewKafkaProducer(f.config, util.Named("kafka")); err != nil {
			optional(config.SinkKafka, err)
		} else {
			f.kafkaProducer = producer
		}
	}
	if f.config.Source.Kind == config.SourceKindKafka {
		consumer, err := client.NewKafkaConsumer(f.config, f.config.Source.KafkaTopic, f.config.Source.KafkaGroup, util.Named("kafka"))
		if err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka consumer: %w", err))
		} else {
			f.kafkaConsumer = consumer
		}
	}

	// Elasticsearch
	if f.config.SinkEnabled(config.SinkElasticsearch) {
		if c, err := client.NewElasticsearchClient(f.config, util.Named("elasticsearch")); err != nil {
			optional(config.SinkElasticsearch, err)
		} else if err := c.HealthCheck(ctx); err != nil {
			optional(config.SinkElasticsearch, fmt.Errorf("health check: %w", err))
		} else {
			f.esClient = c
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if f.config.SinkEnabled(config.SinkClickhouse) {
		if c, err := client.NewClickHouseClient(f.config, util.Named("clickhouse")); err != nil {
			optional(config.SinkClickhouse, err)
		} else {
			f.clickhouseClient = c
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	// Seq
	if f.config.SinkEnabled(config.SinkSeq) {
		if c, err := client.NewSeqClient(f.config, util.Named("seq")); err != nil {
			optional(config.SinkSeq, err)
		} else if err := c.HealthCheck(ctx); err != nil {
			c.Close()
			optional(config.SinkSeq, fmt.Errorf("health check: %w", err))
		} else {
			f.seqClient = c
			util.Info("Seq client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		return errors.Join(initErrors...)
	}
	return nil
}

func (f *Factory) initializeComponents() error {
	cfg := f.config

	policy, err := dedup.ParsePolicy(cfg.Dedup.Policy)
	if err != nil {
		return err
	}

	switch cfg.Dedup.Backend {
	case config.DedupBackendRedis:
		f.cache = dedup.NewRedisCache(f.redisClient, dedup.RedisOptions{
			Policy:    policy,
			Retention: cfg.Dedup.Retention,
			KeyPrefix: cfg.Dedup.RedisKeyPrefix,
			Scope:     f.app.MachineName,
			Logger:    f.logger,
		})
	default:
		f.cache = dedup.NewMemoryCache(dedup.MemoryOptions{
			Policy:        policy,
			Retention:     cfg.Dedup.Retention,
			SweepInterval: cfg.Dedup.SweepInterval,
			Shards:        cfg.Dedup.Shards,
			Logger:        f.logger,
		})
	}

	if err := f.initializeSinks(); err != nil {
		return err
	}

	switch cfg.Source.Kind {
	case config.SourceKindKafka:
		f.source = eventsource.NewKafkaSource(f.kafkaConsumer, f.logger)
	default:
		f.memorySource = eventsource.NewMemorySource()
		f.source = f.memorySource
	}

	f.watcher = watcher.New(watcher.Options{
		Source: f.source,
		Query: eventsource.Query{
			LogName:  cfg.Watcher.LogName,
			EventID:  cfg.Watcher.EventID,
			Keywords: cfg.Watcher.Keywords,
		},
		Cache:     f.cache,
		Sink:      f.sink,
		App:       f.app,
		Retention: cfg.Dedup.Retention,
		Workers:   cfg.Watcher.Workers,
		QueueSize: cfg.Watcher.QueueSize,
		Logger:    f.logger,
	})

	f.heartbeat = heartbeat.New(f.watcher, f.sink, heartbeat.Options{
		Interval: cfg.Heartbeat.Interval,
		Jitter:   cfg.Heartbeat.Jitter,
		App:      f.app,
		Logger:   f.logger,
	})
	if f.heartbeat.Enabled() {
		f.watcher.SetHeartbeat(f.heartbeat)
	}

	return nil
}

// initializeSinks wraps every backend as Async(Breaker(backend)) and fans
// out through one Multi. The log sink is used when nothing else is available.
func (f *Factory) initializeSinks() error {
	cfg := f.config
	var backends []sink.Sink

	for _, name := range cfg.Sink.Enabled {
		switch name {
		case config.SinkLog:
			backends = append(backends, sink.NewLogSink(f.logger))
		case config.SinkSeq:
			if f.seqClient != nil {
				backends = append(backends, sink.NewSeqSink(f.seqClient))
			}
		case config.SinkKafka:
			if f.kafkaProducer != nil {
				backends = append(backends, sink.NewKafkaSink(f.kafkaProducer, cfg.Sink.KafkaTopic))
			}
		case config.SinkElasticsearch:
			if f.esClient != nil {
				backends = append(backends, sink.NewElasticsearchSink(f.esClient, cfg.Sink.ElasticIndex))
			}
		case config.SinkClickhouse:
			if f.clickhouseClient == nil {
				continue
			}
			s, err := sink.NewClickHouseSink(f.clickhouseClient, cfg.Sink.ClickhouseTable)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err = s.EnsureSchema(ctx)
			cancel()
			if err != nil {
				return err
			}
			backends = append(backends, s)
		}
	}

	if len(backends) == 0 {
		util.Warn("No configured sink is available - falling back to the log sink")
		backends = append(backends, sink.NewLogSink(f.logger))
	}

	wrapped := make([]sink.Sink, 0, len(backends))
	for _, b := range backends {
		breaker := sink.NewBreaker(b, sink.BreakerConfig{
			FailureThreshold: cfg.Sink.BreakerFailures,
			Timeout:          cfg.Sink.BreakerTimeout,
			MaxRequests:      cfg.Sink.BreakerHalfOpen,
		}, f.logger)
		wrapped = append(wrapped, sink.NewAsync(breaker, sink.AsyncConfig{
			QueueSize:    cfg.Sink.QueueSize,
			Workers:      cfg.Sink.Workers,
			DrainTimeout: cfg.Sink.DrainTimeout,
		}, f.logger))
	}
	f.sink = sink.NewMulti(wrapped...)

	names := make([]string, 0, len(wrapped))
	for _, s := range wrapped {
		names = append(names, s.Name())
	}
	util.Info("Sinks initialized", zap.Strings("sinks", names))
	return nil
}

// ==============================
// Health Checks
// ==============================

// HealthReport checks every connected backend and returns the failures by name.
func (f *Factory) HealthReport(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.config.NeedsKafka() {
		if err := client.HealthCheckKafka(ctx, f.config.Kafka.Brokers); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.seqClient != nil {
		if err := f.seqClient.HealthCheck(ctx); err != nil {
			healthErrors["seq"] = err
		}
	}

	return healthErrors
}

// HealthCheck joins HealthReport into one error, nil when all backends answer.
func (f *Factory) HealthCheck(ctx context.Context) error {
	report := f.HealthReport(ctx)
	if len(report) == 0 {
		return nil
	}

	names := make([]string, 0, len(report))
	for name := range report {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, report[name]))
	}
	return errors.Join(errs...)
}

// ReplayFile publishes the configured replay file into the memory source.
// It does nothing for other sources or when no file is configured.
func (f *Factory) ReplayFile(ctx context.Context) error {
	path := f.config.Source.ReplayFile
	if f.memorySource == nil || path == "" {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}
	defer file.Close()

	n, err := f.memorySource.Replay(ctx, file)
	util.Info("Replay finished", util.String("file", path), util.Int("records", n))
	return err
}

// Close stops the watcher, drains the sinks and closes every client, once.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.watcher != nil {
			if err := f.watcher.Stop(); err != nil {
				util.Warn("Watcher stopped with error", util.ErrorField(err))
			}
		}

		if f.sink != nil {
			if err := f.sink.Close(); err != nil {
				util.Error("Failed to drain sinks", util.ErrorField(err))
			} else {
				util.Info("Sinks drained")
			}
		}

		if f.cache != nil {
			if err := f.cache.Close(); err != nil {
				util.Error("Failed to close dedup cache", util.ErrorField(err))
			}
		}

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.seqClient != nil {
			f.seqClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) App() models.AppInfo {
	return f.app
}

func (f *Factory) Watcher() *watcher.Watcher {
	return f.watcher
}

func (f *Factory) Heartbeat() *heartbeat.Reporter {
	return f.heartbeat
}
