package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/fcm"
)

type AppleConfig struct {
	Enabled  bool
	Dispatch dispatcher.ProviderConfig
	Gateway  apns.Config
}

type AndroidConfig struct {
	Enabled  bool
	Dispatch dispatcher.ProviderConfig
	Firebase fcm.Config
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Apple      AppleConfig
	Android    AndroidConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// PipelineEnabled reports whether Pub/Sub ingestion is configured.
func (c *Config) PipelineEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	env := envReader{logger: logger}

	env.str("PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	env.str("TOPIC_ID", &cfg.TopicID)
	if env.str("SUBSCRIPTION_ID", &cfg.SubscriptionID) {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}
	env.str("SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID)
	env.positiveInt("NUM_PIPELINE_WORKERS", &cfg.NumPipelineWorkers)

	// Apple
	env.boolean("APNS_ENABLED", &cfg.Apple.Enabled)
	env.str("APNS_ENVIRONMENT", &cfg.Apple.Gateway.Environment)
	env.str("APNS_CERT_FILE", &cfg.Apple.Gateway.CertFile)
	env.str("APNS_CERT_PASSWORD", &cfg.Apple.Gateway.CertPassword)
	env.str("APNS_KEY_FILE", &cfg.Apple.Gateway.KeyFile)
	env.str("APNS_KEY_ID", &cfg.Apple.Gateway.KeyID)
	env.str("APNS_TEAM_ID", &cfg.Apple.Gateway.TeamID)
	env.str("APNS_TOPIC", &cfg.Apple.Gateway.Topic)
	env.positiveInt("APNS_CONCURRENCY", &cfg.Apple.Gateway.Concurrency)
	env.provider("APNS", &cfg.Apple.Dispatch)

	// Android
	env.boolean("FCM_ENABLED", &cfg.Android.Enabled)
	env.str("FCM_CREDENTIALS_FILE", &cfg.Android.Firebase.CredentialsFile)
	env.str("FCM_PROJECT_ID", &cfg.Android.Firebase.ProjectID)
	env.provider("FCM", &cfg.Android.Dispatch)

	// Applies to both providers, after the per-provider keys.
	var dryRun bool
	if env.boolean("PUSH_DRY_RUN", &dryRun) {
		cfg.Apple.Dispatch.DryRun = dryRun
		cfg.Android.Dispatch.DryRun = dryRun
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	if env.err != nil {
		return nil, env.err
	}

	// Final Validation
	if cfg.PipelineEnabled() && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required when subscription_id is set (set via YAML or PROJECT_ID env var)")
	}
	if cfg.Apple.Dispatch.RetryTimes < 0 {
		return nil, fmt.Errorf("apple.retry_times must be non-negative, got %d", cfg.Apple.Dispatch.RetryTimes)
	}
	if cfg.Android.Dispatch.RetryTimes < 0 {
		return nil, fmt.Errorf("android.retry_times must be non-negative, got %d", cfg.Android.Dispatch.RetryTimes)
	}
	if !cfg.Apple.Enabled && !cfg.Android.Enabled {
		logger.Warn("No push provider is enabled; every send will fail with a configuration error")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Android.Firebase.ProjectID == "" {
		cfg.Android.Firebase.ProjectID = cfg.ProjectID
	}

	if cfg.PubsubConsumerConfig == nil && cfg.PipelineEnabled() {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

// envReader applies overrides and keeps the first malformed value it sees.
type envReader struct {
	logger *slog.Logger
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	val := os.Getenv(key)
	if val == "" {
		return "", false
	}
	e.logger.Debug("Overriding config value", "key", key, "source", "env")
	return val, true
}

func (e *envReader) str(key string, dst *string) bool {
	val, ok := e.lookup(key)
	if ok {
		*dst = val
	}
	return ok
}

func (e *envReader) boolean(key string, dst *bool) bool {
	val, ok := e.lookup(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.fail(key, val, err)
		return false
	}
	*dst = b
	return true
}

func (e *envReader) positiveInt(key string, dst *int) {
	val, ok := e.lookup(key)
	if !ok {
		return
	}
	// Non-positive or malformed values are ignored.
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		*dst = n
	}
}

func (e *envReader) provider(prefix string, pc *dispatcher.ProviderConfig) {
	if val, ok := e.lookup(prefix + "_RETRY_TIMES"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.fail(prefix+"_RETRY_TIMES", val, err)
		} else {
			pc.RetryTimes = n
		}
	}
	e.boolean(prefix+"_DRY_RUN", &pc.DryRun)
	e.boolean(prefix+"_LOGGING_ENABLED", &pc.LoggingEnabled)
}

func (e *envReader) fail(key, val string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid value %q for %s: %w", val, key, err)
	}
}
