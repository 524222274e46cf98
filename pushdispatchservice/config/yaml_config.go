package config

import (
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/fcm"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

// YamlProviderConfig holds the settings shared by every provider section.
// RetryTimes is a pointer so an explicit 0 can be told apart from "unset".
type YamlProviderConfig struct {
	Enabled        bool `yaml:"enabled"`
	RetryTimes     *int `yaml:"retry_times"`
	DryRun         bool `yaml:"dry_run"`
	LoggingEnabled bool `yaml:"logging_enabled"`
}

type YamlAppleConfig struct {
	YamlProviderConfig `yaml:",inline"`
	Environment        string `yaml:"environment"`
	CertFile           string `yaml:"cert_file"`
	CertPassword       string `yaml:"cert_password"`
	KeyFile            string `yaml:"key_file"`
	KeyID              string `yaml:"key_id"`
	TeamID             string `yaml:"team_id"`
	Topic              string `yaml:"topic"`
	Concurrency        int    `yaml:"concurrency"`
}

type YamlAndroidConfig struct {
	YamlProviderConfig `yaml:",inline"`
	CredentialsFile    string `yaml:"credentials_file"`
	ProjectID          string `yaml:"project_id"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string            `yaml:"project_id"`
	ListenAddr             string            `yaml:"listen_addr"`
	TopicID                string            `yaml:"topic_id"`
	SubscriptionID         string            `yaml:"subscription_id"`
	SubscriptionDLQTopicID string            `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int               `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig    `yaml:"cors"`
	Apple                  YamlAppleConfig   `yaml:"apple"`
	Android                YamlAndroidConfig `yaml:"android"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Apple: AppleConfig{
			Enabled:  baseCfg.Apple.Enabled,
			Dispatch: providerConfig(baseCfg.Apple.YamlProviderConfig),
			Gateway: apns.Config{
				Environment:  baseCfg.Apple.Environment,
				CertFile:     baseCfg.Apple.CertFile,
				CertPassword: baseCfg.Apple.CertPassword,
				KeyFile:      baseCfg.Apple.KeyFile,
				KeyID:        baseCfg.Apple.KeyID,
				TeamID:       baseCfg.Apple.TeamID,
				Topic:        baseCfg.Apple.Topic,
				Concurrency:  baseCfg.Apple.Concurrency,
			},
		},
		Android: AndroidConfig{
			Enabled:  baseCfg.Android.Enabled,
			Dispatch: providerConfig(baseCfg.Android.YamlProviderConfig),
			Firebase: fcm.Config{
				CredentialsFile: baseCfg.Android.CredentialsFile,
				ProjectID:       baseCfg.Android.ProjectID,
			},
		},
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"apple_enabled", cfg.Apple.Enabled,
		"android_enabled", cfg.Android.Enabled,
	)

	return cfg, nil
}

func providerConfig(y YamlProviderConfig) dispatcher.ProviderConfig {
	pc := dispatcher.DefaultProviderConfig()
	if y.RetryTimes != nil {
		pc.RetryTimes = *y.RetryTimes
	}
	pc.DryRun = y.DryRun
	pc.LoggingEnabled = y.LoggingEnabled
	return pc
}
