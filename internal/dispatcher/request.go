package dispatcher

import (
	"context"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Dispatch executes a decoded SendRequest. A single recipient goes through
// Send, anything more through SendBatch.
func (d *Dispatcher) Dispatch(ctx context.Context, req *dispatch.SendRequest) (*dispatch.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tag := dispatch.Provider(req.Provider)
	if len(req.Recipients) == 1 {
		return d.Send(ctx, tag, req.Recipients[0], req.Text, req.Payload, req.MergedOptions())
	}
	return d.SendBatch(ctx, tag, req.Recipients, req.Text, req.Payload, req.MergedOptions())
}
