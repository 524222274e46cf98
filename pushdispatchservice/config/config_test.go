package config_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/pushdispatchservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			SubscriptionID:     "base-sub",
			NumPipelineWorkers: 2,
			Apple: config.AppleConfig{
				Enabled:  true,
				Dispatch: dispatcher.DefaultProviderConfig(),
			},
			Android: config.AndroidConfig{
				Dispatch: dispatcher.DefaultProviderConfig(),
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("APNS_ENVIRONMENT", "production")
		t.Setenv("APNS_KEY_FILE", "/secrets/AuthKey.p8")
		t.Setenv("APNS_TOPIC", "com.example.app")
		t.Setenv("APNS_RETRY_TIMES", "0")
		t.Setenv("FCM_ENABLED", "true")
		t.Setenv("FCM_CREDENTIALS_FILE", "/secrets/sa.json")
		t.Setenv("FCM_LOGGING_ENABLED", "true")
		t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.com, http://b.com,")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		require.NotNil(t, finalCfg.PubsubConsumerConfig)

		assert.Equal(t, "production", finalCfg.Apple.Gateway.Environment)
		assert.Equal(t, "/secrets/AuthKey.p8", finalCfg.Apple.Gateway.KeyFile)
		assert.Equal(t, "com.example.app", finalCfg.Apple.Gateway.Topic)
		assert.Equal(t, 0, finalCfg.Apple.Dispatch.RetryTimes)

		assert.True(t, finalCfg.Android.Enabled)
		assert.Equal(t, "/secrets/sa.json", finalCfg.Android.Firebase.CredentialsFile)
		assert.Equal(t, "env-project", finalCfg.Android.Firebase.ProjectID)
		assert.True(t, finalCfg.Android.Dispatch.LoggingEnabled)
		assert.Equal(t, dispatcher.DefaultRetryTimes, finalCfg.Android.Dispatch.RetryTimes)

		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)
	})

	t.Run("Success - Global dry run wins", func(t *testing.T) {
		cfg := baseConfig()
		t.Setenv("APNS_DRY_RUN", "false")
		t.Setenv("PUSH_DRY_RUN", "true")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.True(t, finalCfg.Apple.Dispatch.DryRun)
		assert.True(t, finalCfg.Android.Dispatch.DryRun)
	})

	t.Run("Success - Defaults preserved", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ListenAddr = ""
		cfg.NumPipelineWorkers = 0

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.Equal(t, ":8080", finalCfg.ListenAddr)
		assert.Equal(t, 1, finalCfg.NumPipelineWorkers)
		assert.False(t, finalCfg.Apple.Dispatch.DryRun)
	})

	t.Run("Success - Pipeline is optional", func(t *testing.T) {
		cfg := &config.Config{Android: config.AndroidConfig{Enabled: true}}

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.False(t, finalCfg.PipelineEnabled())
		assert.Nil(t, finalCfg.PubsubConsumerConfig)
	})

	t.Run("Validation Failure - Missing ProjectID with a subscription", func(t *testing.T) {
		cfg := &config.Config{SubscriptionID: "sub"}
		t.Setenv("PROJECT_ID", "")
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Negative retry budget", func(t *testing.T) {
		cfg := baseConfig()
		t.Setenv("FCM_RETRY_TIMES", "-1")
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "android.retry_times")
	})

	t.Run("Validation Failure - Malformed boolean", func(t *testing.T) {
		cfg := baseConfig()
		t.Setenv("APNS_ENABLED", "sometimes")
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "APNS_ENABLED")
	})
}
