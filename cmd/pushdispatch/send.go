package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/internal/lifecycle"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/pushdispatchservice"
	"github.com/tinywideclouds/go-push-dispatch/pushdispatchservice/config"
)

type sendFlags struct {
	provider string
	to       []string
	text     string
	title    string
	payload  []string
	options  []string
	dryRun   bool
}

func sendCommand(load func() (*config.Config, error), logger *slog.Logger) *cobra.Command {
	var f sendFlags

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one push notification and print the result",
		Long: `Send a push notification to one or more device tokens.

Examples:
  # Single Android device, logged but not sent
  pushdispatch send --provider=android --to=token123 --text="hello" --payload="custom1=v1" --option="badge=2" --dry-run

  # Apple batch
  pushdispatch send --provider=apple --to=t1 --to=t2 --text="hi" --option="sound=default"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			if f.dryRun {
				cfg.Apple.Dispatch.DryRun = true
				cfg.Android.Dispatch.DryRun = true
			}

			specs, err := pushdispatchservice.NewProviderSpecs(cfg, logger)
			if err != nil {
				return err
			}

			// The command invocation is the unit of work.
			scope := lifecycle.NewScope(logger)
			defer scope.End()

			d, err := dispatcher.NewFactory(logger, specs).ForUnit(scope)
			if err != nil {
				return err
			}
			res, err := d.Dispatch(cmd.Context(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("dispatch %s failed: %w", res.ID, res.Err())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.provider, "provider", "", "provider tag: apple or android")
	cmd.Flags().StringArrayVar(&f.to, "to", nil, "device token (repeatable)")
	cmd.Flags().StringVar(&f.text, "text", "", "notification body")
	cmd.Flags().StringVar(&f.title, "title", "", "notification title")
	cmd.Flags().StringArrayVar(&f.payload, "payload", nil, "custom payload entry key=value (repeatable)")
	cmd.Flags().StringArrayVar(&f.options, "option", nil, "provider option key=value (repeatable)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "log the notification instead of sending it")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("text")

	return cmd
}

func (f sendFlags) request() (*dispatch.SendRequest, error) {
	payload, err := parseKeyValues(f.payload, false)
	if err != nil {
		return nil, fmt.Errorf("invalid --payload: %w", err)
	}
	options, err := parseKeyValues(f.options, true)
	if err != nil {
		return nil, fmt.Errorf("invalid --option: %w", err)
	}
	req := &dispatch.SendRequest{
		Provider:   f.provider,
		Recipients: f.to,
		Text:       f.text,
		Title:      f.title,
		Payload:    payload,
		Options:    options,
	}
	return req, req.Validate()
}

// parseKeyValues turns key=value pairs into a map. Values stay strings unless
// typed is set, in which case integers, floats and booleans keep that type.
func parseKeyValues(pairs []string, typed bool) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%q (expected key=value)", kv)
		}
		value = strings.TrimSpace(value)
		if !typed {
			out[key] = value
			continue
		}

		if i, err := strconv.Atoi(value); err == nil {
			out[key] = i
		} else if fl, err := strconv.ParseFloat(value, 64); err == nil {
			out[key] = fl
		} else if b, err := strconv.ParseBool(value); err == nil {
			out[key] = b
		} else {
			out[key] = value
		}
	}
	return out, nil
}
