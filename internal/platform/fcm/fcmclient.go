// --- File: internal/platform/fcm/fcmclient.go ---
// Package fcm provides the Android client backed by Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/tinywideclouds/go-push-dispatch/internal/retry"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// maxMulticastTokens is the FCM limit for one SendEachForMulticast call.
const maxMulticastTokens = 500

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Dialer builds a messaging client.
type Dialer func(ctx context.Context, cfg Config) (MessagingClient, error)

// Config holds the service account credentials for FCM.
type Config struct {
	CredentialsFile string
	// ProjectID is optional; Firebase reads it from the credentials when empty.
	ProjectID string
}

// Validate fails fast when the credentials file is missing.
func (c Config) Validate() error {
	if c.CredentialsFile == "" {
		return &dispatch.ConfigError{Field: "android.credentials_file", Reason: "credentials cannot be empty"}
	}
	info, err := os.Stat(c.CredentialsFile)
	if err != nil {
		return &dispatch.ConfigError{Field: "android.credentials_file", Reason: fmt.Sprintf("cannot read %s: %v", c.CredentialsFile, err)}
	}
	if info.IsDir() {
		return &dispatch.ConfigError{Field: "android.credentials_file", Reason: c.CredentialsFile + " is a directory"}
	}
	return nil
}

// Client is the Android ProviderClient. FCM is plain HTTP per call, so
// "connected" only means the messaging client has been built.
type Client struct {
	cfg     Config
	dial    Dialer
	retrier retry.Runner
	logger  *slog.Logger

	mu     sync.Mutex
	client MessagingClient
}

type Option func(*Client)

// WithDialer replaces the Firebase client factory.
func WithDialer(d Dialer) Option { return func(c *Client) { c.dial = d } }

// WithRetryRunner replaces the backoff policy.
func WithRetryRunner(r retry.Runner) Option { return func(c *Client) { c.retrier = r } }

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		dial:   dialFirebase,
		logger: logger.With("component", "FCMClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect builds the messaging client once.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.messaging(ctx)
	return err
}

func (c *Client) messaging(ctx context.Context) (MessagingClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := c.dial(ctx, c.cfg)
	if err != nil {
		return nil, &dispatch.TransportError{Code: "connect", Message: "failed to create FCM messaging client", Err: err}
	}
	c.client = client
	return client, nil
}

// Disconnect drops the messaging client.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
	return nil
}

// SendOne sends to the single recipient. The returned result carries option
// warnings even when err is non-nil.
func (c *Client) SendOne(ctx context.Context, msg *dispatch.Message, retryTimes int) (*dispatch.ProviderResult, error) {
	d, warnings := buildDraft(msg)
	result := &dispatch.ProviderResult{Warnings: warnings}

	token, err := msg.Recipient()
	if err != nil {
		return result, err
	}
	client, err := c.messaging(ctx)
	if err != nil {
		return result, err
	}

	err = c.retrier.Do(ctx, retryTimes, func() error {
		id, err := client.Send(ctx, d.message(token))
		if err != nil {
			return classify(token, err)
		}
		result.ID = id
		return nil
	})
	return result, err
}

// SendBatch sends to every recipient via SendEachForMulticast, in chunks of
// 500. Tokens that fail transiently are re-sent, up to retryTimes.
func (c *Client) SendBatch(ctx context.Context, msg *dispatch.Message, retryTimes int) (*dispatch.ProviderBatchResult, error) {
	if len(msg.Recipients) == 0 {
		return nil, dispatch.ErrNoRecipients
	}
	d, warnings := buildDraft(msg)
	result := &dispatch.ProviderBatchResult{
		Failures: make(map[string]error),
		Warnings: warnings,
	}
	client, err := c.messaging(ctx)
	if err != nil {
		return result, err
	}

	responded := false
	var callErr error
	for start := 0; start < len(msg.Recipients); start += maxMulticastTokens {
		end := min(start+maxMulticastTokens, len(msg.Recipients))
		gotResponse, err := c.sendChunk(ctx, client, d, msg.Recipients[start:end], retryTimes, result)
		responded = responded || gotResponse
		if err != nil {
			callErr = err
		}
	}

	// Nothing reached FCM at all: report one batch-level failure rather than
	// the same error once per token.
	if !responded && callErr != nil {
		result.Failures = map[string]error{}
		return result, callErr
	}

	c.logger.Info("FCM batch complete", "success", result.Sent, "failed", len(result.Failures))
	return result, nil
}

var errPendingTokens = errors.New("tokens pending retry")

// sendChunk records outcomes into result. It reports whether FCM ever returned
// per-token responses, and the call-level error if the last attempt failed outright.
func (c *Client) sendChunk(
	ctx context.Context,
	client MessagingClient,
	d *draft,
	tokens []string,
	retryTimes int,
	result *dispatch.ProviderBatchResult,
) (bool, error) {
	pending := tokens
	responded := false

	err := c.retrier.Do(ctx, retryTimes, func() error {
		br, err := client.SendEachForMulticast(ctx, d.multicast(pending))
		if err != nil {
			if messaging.IsInvalidArgument(err) {
				c.logger.Error("FCM rejected batch as InvalidArgument", "err", err)
				return retry.Permanent(&dispatch.TransportError{Code: "invalid-argument", Message: err.Error(), Err: err})
			}
			return &dispatch.TransportError{Code: "transport", Message: "fcm transport failed", Err: err}
		}
		responded = true

		var retryable []string
		for idx, token := range pending {
			var resp *messaging.SendResponse
			if idx < len(br.Responses) {
				resp = br.Responses[idx]
			}
			if resp == nil {
				result.Failures[token] = &dispatch.TransportError{Code: "missing-response", Message: "fcm returned no response for token"}
				retryable = append(retryable, token)
				continue
			}
			if resp.Success {
				result.Sent++
				delete(result.Failures, token)
				continue
			}
			failure := classify(token, resp.Error)
			if cause, ok := retry.AsPermanent(failure); ok {
				result.Failures[token] = cause
				continue
			}
			result.Failures[token] = failure
			retryable = append(retryable, token)
		}

		pending = retryable
		if len(pending) > 0 {
			return errPendingTokens
		}
		return nil
	})

	switch {
	case err == nil, errors.Is(err, errPendingTokens):
		return responded, nil
	case responded:
		// A retry round failed outright; the tokens still pending keep that error.
		for _, token := range pending {
			result.Failures[token] = err
		}
		return true, nil
	default:
		for _, token := range pending {
			result.Failures[token] = err
		}
		return false, err
	}
}

// classify maps an FCM error onto the dispatch error kinds. Permanent errors are
// wrapped so the retry runner stops.
func classify(token string, err error) error {
	switch {
	case messaging.IsRegistrationTokenNotRegistered(err):
		return retry.Permanent(&dispatch.RecipientError{Recipient: token, Code: "unregistered", Message: err.Error()})
	case messaging.IsInvalidArgument(err):
		return retry.Permanent(&dispatch.RecipientError{Recipient: token, Code: "invalid-argument", Message: err.Error()})
	case messaging.IsSenderIDMismatch(err):
		return retry.Permanent(&dispatch.RecipientError{Recipient: token, Code: "sender-id-mismatch", Message: err.Error()})
	case messaging.IsThirdPartyAuthError(err):
		return retry.Permanent(&dispatch.TransportError{Code: "third-party-auth", Message: err.Error(), Err: err})
	}
	return &dispatch.TransportError{Code: "unavailable", Message: err.Error(), Err: err}
}

func dialFirebase(ctx context.Context, cfg Config) (MessagingClient, error) {
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}
	return client, nil
}
