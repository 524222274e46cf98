// Package dispatcher routes a send to the provider named by its tag and
// normalizes what comes back into a dispatch.Result.
//
// A Dispatcher is not safe for concurrent use. Hosts create one per unit of
// work (see Factory), and every send blocks for the duration of the provider I/O.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-dispatch/internal/lifecycle"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// DefaultRetryTimes is the retry budget handed to providers unless configured.
const DefaultRetryTimes = 3

// ProviderConfig is the per-provider dispatch behaviour.
type ProviderConfig struct {
	// RetryTimes is passed to the provider as its internal retry budget.
	RetryTimes int
	// DryRun logs the notification instead of sending it.
	DryRun bool
	// LoggingEnabled gates the activity log line.
	LoggingEnabled bool
}

// DefaultProviderConfig returns a config with the default retry budget.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{RetryTimes: DefaultRetryTimes}
}

type provider struct {
	tag       dispatch.Provider
	client    dispatch.ProviderClient
	cfg       ProviderConfig
	connected bool
	logger    *slog.Logger
}

// Dispatcher is the front door for sending push notifications.
type Dispatcher struct {
	logger    *slog.Logger
	providers map[dispatch.Provider]*provider

	lastErrors  []dispatch.Failure
	lastSuccess bool
}

// New creates a Dispatcher. When unit is non-nil, every provider connection
// opened through this Dispatcher is closed when the unit of work ends.
func New(logger *slog.Logger, unit lifecycle.Registrar) *Dispatcher {
	d := &Dispatcher{
		logger:    logger.With("component", "Dispatcher"),
		providers: make(map[dispatch.Provider]*provider),
	}
	if unit != nil {
		unit.OnEnd(d.Close)
	}
	return d
}

// Register binds a provider tag to a client.
func (d *Dispatcher) Register(tag dispatch.Provider, client dispatch.ProviderClient, cfg ProviderConfig) error {
	canonical, err := dispatch.ParseProvider(string(tag))
	if err != nil {
		return err
	}
	if client == nil {
		return &dispatch.ConfigError{Field: string(canonical), Reason: "client is nil"}
	}
	if cfg.RetryTimes < 0 {
		return &dispatch.ConfigError{Field: string(canonical) + ".retry_times", Reason: fmt.Sprintf("must be non-negative, got %d", cfg.RetryTimes)}
	}
	d.providers[canonical] = &provider{
		tag:    canonical,
		client: client,
		cfg:    cfg,
		logger: d.logger.With("category", "pushdispatch/"+string(canonical)),
	}
	return nil
}

// Send delivers text to one recipient. Only a ConfigError (unknown or
// unregistered provider) or a missing recipient is returned as an error;
// delivery failures are reported in the Result.
func (d *Dispatcher) Send(
	ctx context.Context,
	tag dispatch.Provider,
	recipient, text string,
	payload, options map[string]any,
) (*dispatch.Result, error) {
	p, err := d.resolve(tag)
	if err != nil {
		return nil, err
	}
	if recipient == "" {
		return nil, dispatch.ErrNoRecipients
	}

	msg := dispatch.NewMessage([]string{recipient}, text, payload, options)
	res := newResult(p, msg)
	d.logActivity(p, msg)
	if p.cfg.DryRun {
		return d.finish(res), nil
	}

	if err := d.connect(ctx, p); err != nil {
		res.AddFailure("", err)
		return d.finish(res), nil
	}

	pr, err := p.client.SendOne(ctx, msg, p.cfg.RetryTimes)
	if pr != nil {
		res.Warnings = append(res.Warnings, pr.Warnings...)
	}
	if err != nil {
		res.AddFailure("", err)
	}
	return d.finish(res), nil
}

// SendBatch delivers text to every recipient. Each rejected recipient is one
// entry in Result.Errors, in recipient order.
func (d *Dispatcher) SendBatch(
	ctx context.Context,
	tag dispatch.Provider,
	recipients []string,
	text string,
	payload, options map[string]any,
) (*dispatch.Result, error) {
	p, err := d.resolve(tag)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, dispatch.ErrNoRecipients
	}

	msg := dispatch.NewMessage(recipients, text, payload, options)
	res := newResult(p, msg)
	d.logActivity(p, msg)
	if p.cfg.DryRun {
		return d.finish(res), nil
	}

	if err := d.connect(ctx, p); err != nil {
		res.AddFailure("", err)
		return d.finish(res), nil
	}

	br, err := p.client.SendBatch(ctx, msg, p.cfg.RetryTimes)
	if br != nil {
		res.Warnings = append(res.Warnings, br.Warnings...)
	}
	if err != nil {
		res.AddFailure("", err)
		return d.finish(res), nil
	}

	seen := make(map[string]bool, len(msg.Recipients))
	for _, recipient := range msg.Recipients {
		if seen[recipient] {
			continue
		}
		seen[recipient] = true
		if failure, ok := br.Failures[recipient]; ok && failure != nil {
			res.AddFailure(recipient, failure)
		}
	}
	return d.finish(res), nil
}

// LastErrors returns the failures of the most recent send.
//
// Deprecated: read Result.Errors instead.
func (d *Dispatcher) LastErrors() []dispatch.Failure { return d.lastErrors }

// LastSuccess reports whether the most recent send succeeded.
//
// Deprecated: read Result.Success instead.
func (d *Dispatcher) LastSuccess() bool { return d.lastSuccess }

// Close disconnects every provider this Dispatcher connected.
func (d *Dispatcher) Close() {
	for _, p := range d.providers {
		if !p.connected {
			continue
		}
		if err := p.client.Disconnect(); err != nil {
			p.logger.Warn("Provider disconnect failed", "err", err)
		}
		p.connected = false
	}
}

func (d *Dispatcher) resolve(tag dispatch.Provider) (*provider, error) {
	canonical, err := dispatch.ParseProvider(string(tag))
	if err != nil {
		return nil, err
	}
	p, ok := d.providers[canonical]
	if !ok {
		return nil, &dispatch.ConfigError{Field: "provider", Reason: fmt.Sprintf("provider %q is not configured", canonical)}
	}
	return p, nil
}

func (d *Dispatcher) connect(ctx context.Context, p *provider) error {
	if err := p.client.Connect(ctx); err != nil {
		return err
	}
	p.connected = true
	return nil
}

func newResult(p *provider, msg *dispatch.Message) *dispatch.Result {
	return &dispatch.Result{
		ID:       uuid.NewString(),
		Provider: p.tag,
		DryRun:   p.cfg.DryRun,
		Message:  msg,
	}
}

func (d *Dispatcher) finish(res *dispatch.Result) *dispatch.Result {
	res.Finalize()
	d.lastErrors = res.Errors
	d.lastSuccess = res.Success
	if !res.DryRun && !res.Success {
		d.logger.Warn("Dispatch completed with failures", "dispatch_id", res.ID, "provider", res.Provider, "failures", len(res.Errors))
	}
	return res
}
