package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	DatabaseURL        string
	RabbitMQURL        string
	RedisSentinelHosts string
	RedisMasterName    string
	RedisUrl           string
	LogLevel           string
	ServiceName        string
	ListenAddr         string
	CorsOrigin         string
	ProjectsFile       string
	OtlpEndpoint       string
	RunnerConfig       RunnerConfig
}

type RunnerConfig struct {
	WorkDir      string        // checkouts live in <WorkDir>/<project>/<job>
	PollInterval time.Duration // how often a running fuzzer is checked for cancellation
	RunTimeout   time.Duration // zero runs every job to completion
	GitBinary    string
	CargoBinary  string
}

// TelemetryEnabled reports whether an OTLP endpoint is configured.
func (c *AppConfig) TelemetryEnabled() bool {
	return c.OtlpEndpoint != ""
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found")
	}

	config, err := FromEnv(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	return config
}

// FromEnv builds the configuration from the given lookup function.
func FromEnv(getenv func(string) string) (*AppConfig, error) {
	config := &AppConfig{
		DatabaseURL:        withDefault(getenv("DATABASE_URL"), "sqlite://data.db"),
		RabbitMQURL:        getenv("RABBITMQ_URL"), // optional, events are only logged without it
		RedisSentinelHosts: getenv("REDIS_SENTINEL_HOSTS"),
		RedisMasterName:    getenv("REDIS_MASTER"),
		RedisUrl:           getenv("OVERRIDE_REDIS_URL"),
		LogLevel:           withDefault(getenv("LOG_LEVEL"), "info"),
		ServiceName:        withDefault(getenv("SERVICE_NAME"), "cfuzz"),
		ListenAddr:         withDefault(getenv("LISTEN_ADDR"), ":8080"),
		CorsOrigin:         getenv("CORS_ORIGIN"),
		ProjectsFile:       getenv("PROJECTS_FILE"),
		OtlpEndpoint:       getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RunnerConfig: RunnerConfig{
			WorkDir:     withDefault(getenv("WORK_DIR"), "./workspace"),
			GitBinary:   withDefault(getenv("GIT_BIN"), "git"),
			CargoBinary: withDefault(getenv("CARGO_BIN"), "cargo"),
		},
	}

	var err error
	if config.RunnerConfig.PollInterval, err = parseDuration(getenv("POLL_INTERVAL"), time.Second); err != nil {
		return nil, fmt.Errorf("POLL_INTERVAL: %w", err)
	}
	if config.RunnerConfig.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if config.RunnerConfig.RunTimeout, err = parseDuration(getenv("RUN_TIMEOUT"), 0); err != nil {
		return nil, fmt.Errorf("RUN_TIMEOUT: %w", err)
	}
	if config.RunnerConfig.RunTimeout < 0 {
		return nil, fmt.Errorf("RUN_TIMEOUT must not be negative")
	}
	if config.RedisSentinelHosts != "" && config.RedisMasterName == "" {
		return nil, fmt.Errorf("REDIS_MASTER is required when REDIS_SENTINEL_HOSTS is set")
	}

	return config, nil
}

func withDefault(val, defaultVal string) string {
	if val == "" {
		return defaultVal
	}
	return val
}

func parseDuration(val string, defaultVal time.Duration) (time.Duration, error) {
	if val == "" {
		return defaultVal, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(val)
}
