// --- File: internal/platform/apns/apnsclient.go ---
// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-dispatch/internal/retry"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// Pusher defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type Pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// PushCloser is a Pusher whose connection can be released.
type PushCloser interface {
	Pusher
	Close()
}

// DefaultConcurrency bounds in-flight batch requests when Credentials leave it unset.
const DefaultConcurrency = 8

// Dialer opens a gateway connection for the given credentials.
type Dialer func(creds *Credentials) (PushCloser, error)

// Client is the Apple ProviderClient. It holds one HTTP/2 gateway connection,
// opened on first use and reused until Disconnect.
type Client struct {
	creds   *Credentials
	dial    Dialer
	retrier retry.Runner
	now     func() time.Time
	logger  *slog.Logger

	mu   sync.Mutex
	conn PushCloser
}

type Option func(*Client)

// WithDialer replaces the apns2 connection factory.
func WithDialer(d Dialer) Option { return func(c *Client) { c.dial = d } }

// WithRetryRunner replaces the backoff policy.
func WithRetryRunner(r retry.Runner) Option { return func(c *Client) { c.retrier = r } }

// WithClock replaces the clock used for expiry options.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// NewClient creates an unconnected client.
func NewClient(creds *Credentials, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		creds:  creds,
		dial:   dialGateway,
		now:    time.Now,
		logger: logger.With("component", "APNSClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the gateway connection if it is not already open.
func (c *Client) Connect(_ context.Context) error {
	_, err := c.connection()
	return err
}

func (c *Client) connection() (PushCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.dial(c.creds)
	if err != nil {
		return nil, &dispatch.TransportError{Code: "connect", Message: "failed to open APNs connection", Err: err}
	}
	c.conn = conn
	c.logger.Info("APNs connection opened", "environment", c.creds.Environment, "token_auth", c.creds.UsesToken())
	return conn, nil
}

// Disconnect closes the connection. It is safe to call when not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.Close()
	c.conn = nil
	c.logger.Info("APNs connection closed")
	return nil
}

// SendOne pushes to the single recipient. The returned result carries option
// warnings even when err is non-nil.
func (c *Client) SendOne(ctx context.Context, msg *dispatch.Message, retryTimes int) (*dispatch.ProviderResult, error) {
	d, warnings := buildDraft(msg, c.now)
	result := &dispatch.ProviderResult{Warnings: warnings}

	deviceToken, err := msg.Recipient()
	if err != nil {
		return result, err
	}
	conn, err := c.connection()
	if err != nil {
		return result, err
	}

	res, err := c.push(ctx, conn, d.notification(deviceToken, c.creds.Topic), retryTimes)
	if err != nil {
		return result, err
	}
	result.ID = res.ApnsID
	return result, nil
}

// SendBatch pushes to every recipient. APNs has no multicast endpoint, so each
// token is a separate request; requests run concurrently on the shared HTTP/2
// connection, bounded by Credentials.Concurrency.
func (c *Client) SendBatch(ctx context.Context, msg *dispatch.Message, retryTimes int) (*dispatch.ProviderBatchResult, error) {
	if len(msg.Recipients) == 0 {
		return nil, dispatch.ErrNoRecipients
	}
	d, warnings := buildDraft(msg, c.now)
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	result := &dispatch.ProviderBatchResult{
		Failures: make(map[string]error),
		Warnings: warnings,
	}
	var mu sync.Mutex

	var g errgroup.Group
	limit := c.creds.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	for _, deviceToken := range msg.Recipients {
		g.Go(func() error {
			_, err := c.push(ctx, conn, d.notification(deviceToken, c.creds.Topic), retryTimes)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures[deviceToken] = err
				return nil
			}
			result.Sent++
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("APNs batch complete", "success", result.Sent, "failed", len(result.Failures))
	return result, nil
}

// push sends one notification under the retry budget.
func (c *Client) push(ctx context.Context, conn Pusher, n *apns2.Notification, retryTimes int) (*apns2.Response, error) {
	var res *apns2.Response
	err := c.retrier.Do(ctx, retryTimes, func() error {
		r, err := conn.PushWithContext(ctx, n)
		if err != nil {
			c.logger.Warn("APNs transport failed", "token", n.DeviceToken, "err", err)
			return &dispatch.TransportError{Code: "transport", Message: err.Error(), Err: err}
		}
		if r.Sent() {
			res = r
			return nil
		}
		return classify(n.DeviceToken, r)
	})
	return res, err
}

// classify maps an APNs rejection onto the dispatch error kinds. Throttling and
// gateway faults stay retryable; everything else is final.
func classify(deviceToken string, r *apns2.Response) error {
	// See: https://developer.apple.com/documentation/usernotifications/handling-notification-responses-from-apns
	switch r.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic, apns2.ReasonMissingDeviceToken:
		return retry.Permanent(&dispatch.RecipientError{
			Recipient: deviceToken,
			Code:      r.Reason,
			Message:   fmt.Sprintf("APNs rejected token with status %d", r.StatusCode),
		})
	}

	transportErr := &dispatch.TransportError{
		Code:    r.Reason,
		Message: fmt.Sprintf("APNs responded %d %s", r.StatusCode, r.Reason),
	}
	switch r.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return transportErr
	}
	return retry.Permanent(transportErr)
}

// gatewayConn adapts apns2.Client to PushCloser.
type gatewayConn struct {
	*apns2.Client
}

func (g *gatewayConn) Close() {
	g.HTTPClient.CloseIdleConnections()
}

func dialGateway(creds *Credentials) (PushCloser, error) {
	var client *apns2.Client
	if creds.token != nil {
		client = apns2.NewTokenClient(creds.token)
	} else if creds.certificate != nil {
		client = apns2.NewClient(*creds.certificate)
	} else {
		return nil, fmt.Errorf("no APNs credentials loaded")
	}

	if creds.Environment == EnvironmentProduction {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &gatewayConn{Client: client}, nil
}
