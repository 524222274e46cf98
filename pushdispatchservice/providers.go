package pushdispatchservice

import (
	"log/slog"

	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pushdispatchservice/config"
)

// NewProviderSpecs validates the credentials of every enabled provider and
// returns the specs a dispatcher.Factory builds clients from. Credential
// problems surface here as *dispatch.ConfigError, before any network I/O.
func NewProviderSpecs(cfg *config.Config, logger *slog.Logger) (map[dispatch.Provider]dispatcher.ProviderSpec, error) {
	specs := make(map[dispatch.Provider]dispatcher.ProviderSpec)

	if cfg.Apple.Enabled {
		creds, err := apns.LoadCredentials(cfg.Apple.Gateway)
		if err != nil {
			return nil, err
		}
		logger.Info("Apple provider enabled",
			"environment", creds.Environment,
			"topic", creds.Topic,
			"token_auth", creds.UsesToken(),
			"dry_run", cfg.Apple.Dispatch.DryRun,
		)
		specs[dispatch.ProviderApple] = dispatcher.ProviderSpec{
			New: func() (dispatch.ProviderClient, error) {
				return apns.NewClient(creds, logger), nil
			},
			Config: cfg.Apple.Dispatch,
		}
	}

	if cfg.Android.Enabled {
		fcmCfg := cfg.Android.Firebase
		if err := fcmCfg.Validate(); err != nil {
			return nil, err
		}
		logger.Info("Android provider enabled",
			"project_id", fcmCfg.ProjectID,
			"dry_run", cfg.Android.Dispatch.DryRun,
		)
		specs[dispatch.ProviderAndroid] = dispatcher.ProviderSpec{
			New: func() (dispatch.ProviderClient, error) {
				return fcm.NewClient(fcmCfg, logger)
			},
			Config: cfg.Android.Dispatch,
		}
	}

	return specs, nil
}
