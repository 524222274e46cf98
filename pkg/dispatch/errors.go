package dispatch

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNoRecipients is returned when a send names no device token.
var ErrNoRecipients = errors.New("dispatch: at least one recipient is required")

// ConfigError reports invalid credentials or an unknown provider. It is fatal
// and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Reason
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// TransportError is a network, auth or gateway failure that outlived the retry budget.
type TransportError struct {
	Code    string
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code == "" {
		return "transport error: " + msg
	}
	return fmt.Sprintf("transport error (%s): %s", e.Code, msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RecipientError means the provider rejected one device token.
type RecipientError struct {
	Recipient string
	Code      string
	Message   string
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("recipient %s rejected (%s): %s", e.Recipient, e.Code, e.Message)
}

// OptionWarning records an option that was ignored. It never affects success.
type OptionWarning struct {
	Option string `json:"option"`
	Reason string `json:"reason"`
}

func (w OptionWarning) String() string {
	return fmt.Sprintf("option %s ignored: %s", w.Option, w.Reason)
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

func quote(s string) string { return strconv.Quote(s) }
