package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/spf13/cobra"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/pushdispatchservice"
	"github.com/tinywideclouds/go-push-dispatch/pushdispatchservice/config"
)

func serveCommand(load func() (*config.Config, error), logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when a subscription is configured, the Pub/Sub pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Providers ---
	specs, err := pushdispatchservice.NewProviderSpecs(cfg, logger)
	if err != nil {
		return fmt.Errorf("provider configuration: %w", err)
	}
	factory := dispatcher.NewFactory(logger, specs)

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		return fmt.Errorf("jwt discovery failed: %w", err)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		return fmt.Errorf("auth middleware failed: %w", err)
	}

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PipelineEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client failed: %w", err)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("No subscription configured; Pub/Sub ingestion disabled")
	}

	service, err := pushdispatchservice.New(cfg, consumer, factory, authMiddleware, logger)
	if err != nil {
		return fmt.Errorf("service creation failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "listen_addr", cfg.ListenAddr)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("service stopped with error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return service.Shutdown(shutdownCtx)
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
