package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/internal/lifecycle"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// DispatcherSource hands out a Dispatcher bound to one unit of work.
type DispatcherSource interface {
	ForUnit(unit lifecycle.Registrar) (*dispatcher.Dispatcher, error)
}

// NewProcessor treats every Pub/Sub message as one unit of work: provider
// connections opened while handling it are released before the processor returns.
//
// Requests that can never succeed (unknown provider, bad shape) are logged and
// acknowledged. A global transport failure returns an error so the message is
// redelivered; per-recipient rejections are final.
func NewProcessor(source DispatcherSource, logger *slog.Logger) messagepipeline.StreamProcessor[dispatch.SendRequest] {
	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.SendRequest) error {
		procLogger := logger.With(
			"provider", request.Provider,
			"pubsub_msg_id", original.ID,
		)

		scope := lifecycle.NewScope(procLogger)
		defer scope.End()

		d, err := source.ForUnit(scope)
		if err != nil {
			procLogger.Error("Failed to build dispatcher", "err", err)
			return err
		}

		res, err := d.Dispatch(ctx, request)
		if err != nil {
			if dispatch.IsConfigError(err) || errors.Is(err, dispatch.ErrNoRecipients) {
				procLogger.Warn("Dropping undeliverable request", "err", err)
				return nil
			}
			procLogger.Error("Dispatch failed", "err", err)
			return err
		}

		for _, w := range res.Warnings {
			procLogger.Debug("Option ignored", "option", w.Option, "reason", w.Reason)
		}

		if res.Success {
			procLogger.Info("Dispatched", "dispatch_id", res.ID, "recipients", len(request.Recipients), "dry_run", res.DryRun)
			return nil
		}

		for _, f := range res.Errors {
			if f.Recipient == "" {
				procLogger.Error("Dispatch transport failure", "dispatch_id", res.ID, "code", f.Code, "err", f.Message)
				return fmt.Errorf("dispatch %s: %w", res.ID, res.Err())
			}
		}
		procLogger.Warn("Dispatched with rejected recipients", "dispatch_id", res.ID, "rejected", len(res.Errors), "err", res.Err())
		return nil
	}
}
