package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Pipeline operations.
const (
	OperationAnnual   = "annual"
	OperationValidate = "validate"
)

// Sinks.
const (
	SinkKafka    = "kafka"
	SinkPostgres = "postgres"
)

// DefaultCDECBaseURL is the CDEC JSON data servlet.
const DefaultCDECBaseURL = "https://cdec.water.ca.gov/dynamicapp/req/JSONDataServlet"

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Operation applied to each consumed series.
	Operation     string
	FiscalYearEnd time.Month

	Sink        string
	DatabaseURL string

	// CDEC observed-data client used to serve /series when no database is
	// configured.
	CDECBaseURL     string
	CDECTimeout     time.Duration
	SeriesCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cdecTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("CDEC_TIMEOUT", "10s"))
	if err != nil || cdecTimeout <= 0 {
		return nil, errors.New("invalid CDEC_TIMEOUT")
	}

	fiscalYearEnd, err := parseFiscalYearEnd()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-series"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "annual-series"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "calsim-tables"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		Operation:     sharedcfg.EnvOrDefault("PIPELINE_OPERATION", OperationAnnual),
		FiscalYearEnd: fiscalYearEnd,

		Sink:        sharedcfg.EnvOrDefault("SINK", SinkKafka),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		CDECBaseURL:     sharedcfg.EnvOrDefault("CDEC_BASE_URL", DefaultCDECBaseURL),
		CDECTimeout:     cdecTimeout,
		SeriesCacheSize: parseSeriesCacheSize(),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	switch cfg.Operation {
	case OperationAnnual, OperationValidate:
	default:
		return nil, fmt.Errorf("invalid PIPELINE_OPERATION %q: must be %s or %s", cfg.Operation, OperationAnnual, OperationValidate)
	}
	switch cfg.Sink {
	case SinkKafka:
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	case SinkPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("SINK is postgres but DATABASE_URL is not set")
		}
	default:
		return nil, fmt.Errorf("invalid SINK %q: must be %s or %s", cfg.Sink, SinkKafka, SinkPostgres)
	}

	return cfg, nil
}

func parseFiscalYearEnd() (time.Month, error) {
	s := sharedcfg.EnvOrDefault("FISCAL_YEAR_END_MONTH", "9")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 12 {
		return 0, errors.New("invalid FISCAL_YEAR_END_MONTH: must be 1-12")
	}
	return time.Month(n), nil
}

func parseSeriesCacheSize() int {
	if s := os.Getenv("SERIES_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
