package dispatch

import (
	"maps"
	"slices"
	"strings"
)

// Message is the provider-agnostic notification handed to a ProviderClient.
// It is built fresh for every send and must not be mutated afterwards.
type Message struct {
	Recipients      []string       `json:"recipients"`
	Title           string         `json:"title,omitempty"`
	Body            string         `json:"body"`
	CustomPayload   map[string]any `json:"custom_payload,omitempty"`
	ProviderOptions map[string]any `json:"provider_options,omitempty"`
}

// NewMessage copies its inputs so later changes by the caller cannot leak in.
// A string "title" option is lifted into Title.
func NewMessage(recipients []string, text string, payload, options map[string]any) *Message {
	msg := &Message{
		Recipients:      slices.Clone(recipients),
		Body:            text,
		CustomPayload:   maps.Clone(payload),
		ProviderOptions: maps.Clone(options),
	}
	if msg.CustomPayload == nil {
		msg.CustomPayload = map[string]any{}
	}
	if msg.ProviderOptions == nil {
		msg.ProviderOptions = map[string]any{}
	}
	for name, value := range msg.ProviderOptions {
		if NormalizeOption(name) != OptionTitle {
			continue
		}
		if title, err := AsString(value); err == nil {
			msg.Title = title
		}
	}
	return msg
}

// Recipient returns the single recipient of a unary send.
func (m *Message) Recipient() (string, error) {
	if len(m.Recipients) != 1 || m.Recipients[0] == "" {
		return "", ErrNoRecipients
	}
	return m.Recipients[0], nil
}

// NormalizeOption folds an option name for table lookups: case-insensitive,
// with "-" treated as "_".
func NormalizeOption(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}
