package dispatch

import (
	"errors"

	"github.com/hashicorp/go-multierror"
)

// Failure kinds carried by a Failure.
const (
	KindTransport = "transport"
	KindRecipient = "recipient"
)

// Failure describes one failure point: a global send failure (Recipient empty)
// or one rejected recipient of a batch.
type Failure struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
}

func (f Failure) Error() string {
	if f.Recipient != "" {
		return f.Recipient + ": " + f.Message
	}
	return f.Message
}

// Result is the outcome of a dispatch. Success is true iff Errors is empty;
// Warnings never influence it.
type Result struct {
	ID       string          `json:"id"`
	Provider Provider        `json:"provider"`
	Success  bool            `json:"success"`
	DryRun   bool            `json:"dry_run,omitempty"`
	Errors   []Failure       `json:"errors"`
	Warnings []OptionWarning `json:"warnings,omitempty"`
	Message  *Message        `json:"message"`
}

// AddFailure converts a provider error into a Failure. An empty recipient
// means the failure is not tied to one token.
func (r *Result) AddFailure(recipient string, err error) {
	f := Failure{Kind: KindTransport, Recipient: recipient, Message: err.Error()}

	var recErr *RecipientError
	var trErr *TransportError
	switch {
	case errors.As(err, &recErr):
		f.Kind = KindRecipient
		f.Code = recErr.Code
		f.Message = recErr.Message
		if f.Recipient == "" {
			f.Recipient = recErr.Recipient
		}
	case errors.As(err, &trErr):
		f.Code = trErr.Code
	}
	r.Errors = append(r.Errors, f)
}

// Finalize establishes Success from Errors.
func (r *Result) Finalize() *Result {
	if r.Errors == nil {
		r.Errors = []Failure{}
	}
	r.Success = len(r.Errors) == 0
	return r
}

// Err folds every failure into a single error, or returns nil on success.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, f := range r.Errors {
		merr = multierror.Append(merr, f)
	}
	return merr.ErrorOrNil()
}
