package dispatch

import (
	"fmt"
	"strings"
)

// SendRequest is the JSON envelope accepted by the HTTP and Pub/Sub hosts.
type SendRequest struct {
	Provider   string         `json:"provider"`
	Recipients []string       `json:"recipients"`
	Text       string         `json:"text"`
	Title      string         `json:"title,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

// Validate checks the envelope shape. Provider tags are checked by the
// dispatcher so unknown tags surface as ConfigError there.
func (r *SendRequest) Validate() error {
	if strings.TrimSpace(r.Provider) == "" {
		return fmt.Errorf("provider is required")
	}
	if len(r.Recipients) == 0 {
		return ErrNoRecipients
	}
	for i, token := range r.Recipients {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("recipient %d is empty", i)
		}
	}
	if r.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// MergedOptions folds the Title shortcut into the option map.
func (r *SendRequest) MergedOptions() map[string]any {
	if r.Title == "" {
		return r.Options
	}
	merged := make(map[string]any, len(r.Options)+1)
	for k, v := range r.Options {
		merged[k] = v
	}
	merged[OptionTitle] = r.Title
	return merged
}
