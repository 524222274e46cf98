// --- File: pkg/dispatch/interfaces.go ---
// Package dispatch contains the provider-agnostic contracts and domain models
// shared by the push providers and the dispatcher.
package dispatch

import (
	"context"
	"strings"
)

// Provider tags a push delivery backend.
type Provider string

const (
	ProviderApple   Provider = "apple"
	ProviderAndroid Provider = "android"
)

// ParseProvider resolves a provider tag. The legacy tags "apns", "gcm" and
// "fcm" are accepted as aliases.
func ParseProvider(tag string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "apple", "apns", "ios":
		return ProviderApple, nil
	case "android", "gcm", "fcm":
		return ProviderAndroid, nil
	}
	return "", &ConfigError{Field: "provider", Reason: "unknown provider tag " + quote(tag)}
}

// ProviderClient defines the contract for a component that can send
// notifications to one platform (Apple's APNs, Google's FCM).
type ProviderClient interface {
	// Connect opens the underlying transport. Calling it on a connected client is a no-op.
	Connect(ctx context.Context) error
	// Disconnect releases the transport.
	Disconnect() error
	// SendOne delivers to the single recipient in msg.Recipients.
	SendOne(ctx context.Context, msg *Message, retryTimes int) (*ProviderResult, error)
	// SendBatch delivers to every recipient. A rejected recipient never aborts
	// delivery to the others; it shows up in ProviderBatchResult.Failures.
	SendBatch(ctx context.Context, msg *Message, retryTimes int) (*ProviderBatchResult, error)
}

// ProviderResult is the outcome of a successful SendOne.
type ProviderResult struct {
	// ID is the provider's message identifier, when it returns one.
	ID       string
	Warnings []OptionWarning
}

// ProviderBatchResult partitions a batch by recipient.
type ProviderBatchResult struct {
	Sent     int
	Failures map[string]error
	Warnings []OptionWarning
}
