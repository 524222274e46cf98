package dispatcher

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// logActivity emits the one-line summary of an outgoing notification.
func (d *Dispatcher) logActivity(p *provider, msg *dispatch.Message) {
	if !p.cfg.LoggingEnabled {
		return
	}
	p.logger.Info(renderActivity(msg.Recipients, msg.Body, msg.CustomPayload, msg.ProviderOptions), "dry_run", p.cfg.DryRun)
}

func renderActivity(recipients []string, text string, payload, args map[string]any) string {
	return fmt.Sprintf("Sending push notifications to %s | message: %s | payload data: %s | arguments: %s",
		strings.Join(recipients, ", "), text, flatten(payload), flatten(args))
}

// flatten renders a map as "k=v, k2=v2" with keys sorted.
func flatten(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
